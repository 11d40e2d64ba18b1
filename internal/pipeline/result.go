package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
)

// Attempt is one extraction round-trip, kept for logging only.
type Attempt struct {
	Index int
	Raw   string
	Event Event
	Err   error
}

// DocumentResult is the outcome of one document: a validated record on
// success, otherwise a reason and the failure kind.
type DocumentResult struct {
	SourcePath  string
	Record      llm.ExtractedRecord // zero unless OK
	OK          bool
	Kind        constants.FailureKind
	Reason      string
	Err         error
	Attempts    int // used on success, exhausted on failure
	ProcessedAt time.Time
}

func Success(path string, rec llm.ExtractedRecord, attempts int, at time.Time) DocumentResult {
	return DocumentResult{SourcePath: path, Record: rec, OK: true, Attempts: attempts, ProcessedAt: at}
}

func Failure(path string, kind constants.FailureKind, err error, attempts int, at time.Time) DocumentResult {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return DocumentResult{SourcePath: path, Kind: kind, Reason: reason, Err: err, Attempts: attempts, ProcessedAt: at}
}

// Name is the file name of the source document.
func (r DocumentResult) Name() string { return filepath.Base(r.SourcePath) }

func (r DocumentResult) Status() constants.ResultStatus {
	if r.OK {
		return constants.StatusOK
	}
	return constants.StatusError
}

func (r DocumentResult) String() string {
	if r.OK {
		return fmt.Sprintf("%s: ok after %d attempt(s)", r.Name(), r.Attempts)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %s", r.Name(), r.Kind, r.Attempts, r.Reason)
}

// RunSummary holds every result of a run in processing order.
type RunSummary struct {
	RunID      string
	Results    []DocumentResult
	Total      int
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

func NewRunSummary(runID string, results []DocumentResult, started, finished time.Time) RunSummary {
	s := RunSummary{
		RunID:      runID,
		Results:    results,
		Total:      len(results),
		StartedAt:  started,
		FinishedAt: finished,
	}
	for _, r := range results {
		if r.OK {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// Records returns the validated records in order.
func (s RunSummary) Records() []llm.ExtractedRecord {
	out := make([]llm.ExtractedRecord, 0, s.Succeeded)
	for _, r := range s.Results {
		if r.OK {
			out = append(out, r.Record)
		}
	}
	return out
}
