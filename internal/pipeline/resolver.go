package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
	"github.com/joseph-ayodele/planetafiscal/internal/loader"
)

const DefaultMaxAttempts = 3

// ResolverConfig holds retry behavior for one document.
type ResolverConfig struct {
	MaxAttempts   int           // default 3
	RetryBackoff  time.Duration // pause after a backend failure; 0 = none
	MaxInputRunes int           // prompt text budget; 0 = unlimited
}

// Resolver drives up to MaxAttempts sequential extract-then-validate
// attempts for a single document.
type Resolver struct {
	extractor llm.Extractor
	cfg       ResolverConfig
	limiter   *rate.Limiter
	log       *slog.Logger
	now       func() time.Time
}

type ResolverOption func(*Resolver)

// WithRateLimit caps backend calls per second across every document that
// shares this resolver. rps <= 0 disables the limit.
func WithRateLimit(rps float64) ResolverOption {
	return func(r *Resolver) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewResolver(extractor llm.Extractor, cfg ResolverConfig, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	r := &Resolver{extractor: extractor, cfg: cfg, log: logger, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) MaxAttempts() int { return r.cfg.MaxAttempts }

// Resolve returns Success on the first attempt whose response validates, or
// a failure carrying the last attempt's reason once maxAttempts attempts
// have failed. maxAttempts <= 0 uses the configured value.
func (r *Resolver) Resolve(ctx context.Context, doc loader.SourceDocument, maxAttempts int) DocumentResult {
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.MaxAttempts
	}
	ctx = common.WithDocument(ctx, doc.Path)
	start := r.now()

	state := StateAttempting
	n := 0
	var last Attempt
	var rec llm.ExtractedRecord

	for state == StateAttempting {
		n++
		last, rec = r.attempt(ctx, doc, n, maxAttempts)

		next, err := Next(state, last.Event, n, maxAttempts)
		if err != nil {
			// Unreachable with the static table; fail the document rather than loop.
			r.log.Error("pipeline.fsm.error", "document", doc.Path, "error", err)
			next = StateExhausted
		}
		r.log.Debug("pipeline.fsm.transition",
			"document", doc.Path, "attempt", n, "from", state, "event", last.Event, "to", next)
		state = next

		if state == StateAttempting && last.Event == EventBackendUnavailable && r.cfg.RetryBackoff > 0 {
			if err := sleepCtx(ctx, r.cfg.RetryBackoff); err != nil {
				// Cancellation during backoff: the next attempt reports it.
				continue
			}
		}
	}

	if state == StateSucceeded {
		r.log.Info("pipeline.document.ok",
			"document", doc.Path,
			"attempts", n,
			"elapsed_ms", r.now().Sub(start).Milliseconds(),
		)
		return Success(doc.Path, rec, n, r.now())
	}

	used := n
	if last.Event == EventCanceled {
		// The canceled slot never reached the backend.
		used = n - 1
	}
	kind := failureKind(last.Event)
	err := fmt.Errorf("%w after %d attempt(s): %w", common.ErrAttemptsExhausted, used, last.Err)
	if last.Event == EventCanceled {
		err = fmt.Errorf("canceled after %d attempt(s): %w", used, last.Err)
	}
	r.log.Warn("pipeline.document.exhausted",
		"document", doc.Path,
		"attempts", used,
		"kind", kind,
		"error", last.Err,
		"elapsed_ms", r.now().Sub(start).Milliseconds(),
	)
	return Failure(doc.Path, kind, err, used, r.now())
}

func (r *Resolver) attempt(ctx context.Context, doc loader.SourceDocument, n, max int) (Attempt, llm.ExtractedRecord) {
	att := Attempt{Index: n}
	if err := ctx.Err(); err != nil {
		att.Event, att.Err = EventCanceled, err
		return att, llm.ExtractedRecord{}
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			att.Event, att.Err = EventCanceled, err
			return att, llm.ExtractedRecord{}
		}
	}

	r.log.Info("pipeline.attempt.start", "document", doc.Path, "attempt", n, "max_attempts", max)
	req := llm.ExtractionRequest{
		DocumentText:  doc.Text,
		FilenameHint:  doc.Name(),
		Language:      doc.Language,
		Attempt:       n,
		MaxInputRunes: r.cfg.MaxInputRunes,
	}
	raw, err := r.extract(ctx, req)
	att.Raw = raw
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, common.ErrBackendUnavailable) {
			att.Event, att.Err = EventCanceled, ctx.Err()
		} else {
			att.Event, att.Err = EventBackendUnavailable, common.BackendUnavailable(err)
		}
		r.log.Warn("pipeline.attempt.failed",
			"document", doc.Path, "attempt", n, "event", att.Event, "error", att.Err)
		return att, llm.ExtractedRecord{}
	}

	rec, err := llm.Validate(raw)
	if err != nil {
		att.Err = err
		switch llm.OutcomeOf(err) {
		case llm.OutcomeSchemaInvalid:
			att.Event = EventSchemaInvalid
		default:
			att.Event = EventParseFailed
		}
		r.log.Warn("pipeline.attempt.failed",
			"document", doc.Path, "attempt", n, "event", att.Event, "error", err, "raw", truncateRaw(raw))
		return att, llm.ExtractedRecord{}
	}

	att.Event = EventValidatorOK
	return att, rec
}

// extract turns a backend panic into a failed attempt.
func (r *Resolver) extract(ctx context.Context, req llm.ExtractionRequest) (raw string, err error) {
	defer func() {
		if p := recover(); p != nil {
			raw, err = "", common.BackendUnavailable(fmt.Errorf("backend panic: %v", p))
		}
	}()
	return r.extractor.Extract(ctx, req)
}

func failureKind(e Event) constants.FailureKind {
	switch e {
	case EventParseFailed:
		return constants.FailureParseFailed
	case EventSchemaInvalid:
		return constants.FailureSchemaInvalid
	case EventBackendUnavailable:
		return constants.FailureBackendUnavailable
	case EventCanceled:
		return constants.FailureCanceled
	default:
		return constants.FailureParseFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncateRaw keeps at most 500 bytes of s without splitting a rune.
func truncateRaw(s string) string {
	n := 500
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
