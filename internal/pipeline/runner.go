package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/artifacts"
	"github.com/joseph-ayodele/planetafiscal/internal/async"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
	"github.com/joseph-ayodele/planetafiscal/internal/loader"
)

// DocumentLoader reads one input file.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (loader.SourceDocument, error)
}

// RecordSink persists validated records downstream, e.g. a SQL table.
type RecordSink interface {
	InsertRecords(ctx context.Context, recs []llm.ExtractedRecord) (int64, error)
}

// Reporter renders a finished run, e.g. as a spreadsheet.
type Reporter interface {
	Report(ctx context.Context, s RunSummary) error
}

// Runner processes a batch of documents. One document's failure never stops
// the others; results keep input order.
type Runner struct {
	loader   DocumentLoader
	resolver *Resolver
	store    artifacts.Store
	sink     RecordSink
	reporter Reporter
	pool     *async.Pool
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session []DocumentResult
	owners  map[string]string // artifact name -> source path
}

type RunnerOption func(*Runner)

func WithRecordSink(s RecordSink) RunnerOption { return func(r *Runner) { r.sink = s } }

func WithReporter(rep Reporter) RunnerOption { return func(r *Runner) { r.reporter = rep } }

// WithPool processes documents concurrently on p.
func WithPool(p *async.Pool) RunnerOption { return func(r *Runner) { r.pool = p } }

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(l DocumentLoader, res *Resolver, store artifacts.Store, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		loader:   l,
		resolver: res,
		store:    store,
		log:      logger,
		now:      time.Now,
		owners:   map[string]string{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes paths and writes one artifact per document plus the
// summary. Artifact, sink and report errors are logged, never returned.
func (r *Runner) Run(ctx context.Context, paths []string) RunSummary {
	runID := uuid.New().String()
	ctx = common.WithRunID(ctx, runID)
	started := r.now()
	r.log.Info("batch.start", "run_id", runID, "documents", len(paths))

	// Each slot is written by exactly one worker.
	results := make([]DocumentResult, len(paths))
	done := make([]bool, len(paths))

	process := func(ctx context.Context, i int) error {
		results[i] = r.ProcessDocument(ctx, paths[i])
		done[i] = true
		return nil
	}
	if r.pool != nil {
		_ = r.pool.Run(ctx, len(paths), process)
	} else {
		for i := range paths {
			if ctx.Err() != nil {
				break
			}
			_ = process(ctx, i)
		}
	}

	// Documents never reached because the run was canceled still get a result.
	for i, ok := range done {
		if !ok {
			err := ctx.Err()
			if err == nil {
				err = errors.New("not processed")
			}
			results[i] = Failure(paths[i], constants.FailureCanceled, err, 0, r.now())
		}
	}

	summary := NewRunSummary(runID, results, started, r.now())
	r.publish(context.WithoutCancel(ctx), summary, resultNames(results))

	r.log.Info("batch.done",
		"run_id", runID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed_ms", summary.FinishedAt.Sub(started).Milliseconds(),
	)
	return summary
}

// ProcessDocument loads and resolves one document. Load failures become a
// failed result without any extraction attempt. A panic never escapes: it
// fails this document only.
func (r *Runner) ProcessDocument(ctx context.Context, path string) (res DocumentResult) {
	ctx = common.WithDocument(ctx, path)
	r.log.Info("batch.document.start", "run_id", common.RunIDFromContext(ctx), "document", path)

	loading := true
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.log.Error("batch.document.panic", "document", path, "loading", loading, "panic", fmt.Sprint(p))
		if loading {
			res = Failure(path, constants.FailureUnreadableDocument,
				common.Unreadable(path, fmt.Errorf("panic while loading: %v", p)), 0, r.now())
			return
		}
		res = Failure(path, constants.FailureBackendUnavailable,
			common.BackendUnavailable(fmt.Errorf("panic while extracting: %v", p)), res.Attempts, r.now())
	}()

	doc, err := r.loader.Load(ctx, path)
	if err != nil {
		kind := constants.FailureUnreadableDocument
		if ctx.Err() != nil && !errors.Is(err, common.ErrUnreadableDocument) {
			kind = constants.FailureCanceled
		}
		r.log.Warn("batch.document.unreadable", "document", path, "error", err)
		return Failure(path, kind, err, 0, r.now())
	}
	loading = false

	res = r.resolver.Resolve(ctx, doc, 0)
	if res.OK {
		r.log.Info("batch.document.ok", "document", path, "attempts", res.Attempts)
	} else {
		r.log.Warn("batch.document.failed", "document", path, "kind", res.Kind, "attempts", res.Attempts, "reason", res.Reason)
	}
	return res
}

// Process implements async.Processor for watch mode: the document's artifact
// is written right away and the result joins the session summary.
func (r *Runner) Process(ctx context.Context, job async.Job) error {
	if job.RunID != "" {
		ctx = common.WithRunID(ctx, job.RunID)
	}
	res := r.ProcessDocument(ctx, job.Path)

	r.mu.Lock()
	r.session = append(r.session, res)
	name := claimName(r.owners, job.Path)
	r.mu.Unlock()

	data, err := EncodeResult(res)
	if err != nil {
		return err
	}
	return r.store.Put(context.WithoutCancel(ctx), name, data)
}

// Finish writes the summary of everything Process handled and resets the
// session.
func (r *Runner) Finish(ctx context.Context, runID string, started time.Time) RunSummary {
	r.mu.Lock()
	results := r.session
	r.session = nil
	r.owners = map[string]string{}
	r.mu.Unlock()

	summary := NewRunSummary(runID, results, started, r.now())
	r.publish(common.WithRunID(context.WithoutCancel(ctx), runID), summary, nil)
	return summary
}

// publish writes artifacts, then feeds the optional sink and reporter.
// names == nil skips per-document artifacts.
func (r *Runner) publish(ctx context.Context, s RunSummary, names []string) {
	failures := 0
	for i, res := range s.Results {
		if names == nil {
			break
		}
		data, err := EncodeResult(res)
		if err == nil {
			err = r.store.Put(ctx, names[i], data)
		}
		if err != nil {
			failures++
			r.log.Error("batch.artifact.write_error", "run_id", s.RunID, "artifact", names[i], "error", err)
		}
	}

	data, err := EncodeSummary(s)
	if err == nil {
		err = r.store.Put(ctx, constants.SummaryFileName, data)
	}
	if err != nil {
		failures++
		r.log.Error("batch.summary.write_error", "run_id", s.RunID, "error", err)
	} else {
		r.log.Info("batch.summary.saved", "run_id", s.RunID, "location", r.store.Location(), "artifact", constants.SummaryFileName)
	}
	if failures > 0 {
		r.log.Warn("batch.artifacts.incomplete", "run_id", s.RunID, "failed_writes", failures)
	}

	if r.sink != nil && s.Succeeded > 0 {
		n, err := r.sink.InsertRecords(ctx, s.Records())
		if err != nil {
			r.log.Error("batch.sink.error", "run_id", s.RunID, "inserted", n, "error", err)
		} else {
			r.log.Info("batch.sink.ok", "run_id", s.RunID, "inserted", n)
		}
	}
	if r.reporter != nil {
		if err := r.reporter.Report(ctx, s); err != nil {
			r.log.Error("batch.report.error", "run_id", s.RunID, "error", err)
		}
	}
}
