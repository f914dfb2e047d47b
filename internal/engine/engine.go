package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Engine supervises the worker pool and the cron scheduler.
type Engine struct {
	pool      *Pool
	scheduler *Scheduler
}

// New assembles an engine from its two background loops.
func New(pool *Pool, scheduler *Scheduler) *Engine {
	return &Engine{pool: pool, scheduler: scheduler}
}

// Run starts both loops and blocks until ctx is cancelled or one of them
// fails.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pool.Run(ctx) })
	g.Go(func() error { return e.scheduler.Run(ctx) })
	return g.Wait()
}
