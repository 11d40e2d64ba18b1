// Package async runs document work on a bounded set of goroutines: Pool for
// a known batch, ProcessorQueue for paths that keep arriving.
package async

import (
	"context"
	"errors"
	"time"
)

var ErrQueueClosed = errors.New("queue is shut down")

// Job is one document submitted to a queue.
type Job struct {
	Path        string
	SubmittedAt time.Time
	RunID       string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor handles one queued job. Errors are logged by the queue; they
// never stop the workers.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

type settings struct {
	workers   int
	queueSize int
	timeout   time.Duration
}

type Option func(*settings)

func WithWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithProcessTimeout bounds a single job. Zero leaves jobs unbounded.
func WithProcessTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{workers: 1, queueSize: 256}
	for _, o := range opts {
		o(&s)
	}
	return s
}
