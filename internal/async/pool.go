package async

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed batch of indexed jobs with bounded concurrency.
type Pool struct {
	logger *slog.Logger
	cfg    settings
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{logger: logger, cfg: newSettings(opts)}
}

// Run calls fn once for every index in [0, n), at most the configured number of workers at a time.
// fn owns its failures: a returned error or a panic is logged and the
// remaining indices still run. Run stops scheduling new indices once ctx is
// done and returns ctx.Err() in that case.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, index int) error) error {
	var g errgroup.Group
	g.SetLimit(p.cfg.workers)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.runOne(ctx, i, fn)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (p *Pool) runOne(ctx context.Context, i int, fn func(context.Context, int) error) {
	if p.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool.job.panic", "index", i, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(ctx, i); err != nil {
		p.logger.Error("pool.job.failed", "index", i, "error", err)
	}
}
