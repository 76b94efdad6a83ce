package search

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one independent sub-query of a search. Each task writes only to
// its own result slot, so tasks may run in any order or in parallel.
type Task func(ctx context.Context) error

// Executor runs the tasks of a search and returns the first error
type Executor interface {
	Name() string
	Run(ctx context.Context, tasks []Task) error
}

// Sequential runs tasks one after another in order
type Sequential struct{}

// Name implements Executor
func (Sequential) Name() string { return "sequential" }

// Run implements Executor
func (Sequential) Run(ctx context.Context, tasks []Task) error {
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := task(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Concurrent runs tasks in parallel. The first failure cancels the context
// passed to the remaining tasks. Limit caps parallelism; zero means unbounded.
type Concurrent struct {
	Limit int
}

// Name implements Executor
func (Concurrent) Name() string { return "concurrent" }

// Run implements Executor
func (c Concurrent) Run(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	if c.Limit > 0 {
		g.SetLimit(c.Limit)
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}

// ExecutorByName returns the executor registered under name, defaulting to Concurrent
func ExecutorByName(name string, limit int) Executor {
	if name == (Sequential{}).Name() {
		return Sequential{}
	}
	return Concurrent{Limit: limit}
}
