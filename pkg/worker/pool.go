package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
)

// Item is one unit of fan-out work, identified for error reporting.
type Item[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// Result pairs an item's outcome with its ID. Err is set by the item itself,
// or by cancellation when the item never ran.
type Result[T any] struct {
	ID     string
	Result T
	Err    error
}

// Pool fans work out across a fixed set of goroutines. A failed item never
// stops the others; results arrive in completion order.
type Pool struct {
	workers int
	logger  *zap.Logger
}

// NewPool sizes a pool from the worker configuration.
func NewPool(cfg config.WorkerConfig, logger *zap.Logger) *Pool {
	workers := cfg.MaxConcurrent
	if workers < 1 {
		workers = 8
	}
	return &Pool{
		workers: workers,
		logger:  logger.Named("worker-pool"),
	}
}

// Process runs every item and returns one Result per item. Cancellation is
// cooperative: items that have not started when the context ends report
// ctx.Err() instead of running.
func Process[T any](ctx context.Context, pool *Pool, items []Item[T]) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	workers := pool.workers
	if workers > len(items) {
		workers = len(items)
	}

	feed := make(chan Item[T])
	out := make(chan Result[T], len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range feed {
				if err := ctx.Err(); err != nil {
					var zero T
					out <- Result[T]{ID: item.ID, Result: zero, Err: err}
					continue
				}
				result, err := item.Execute(ctx)
				out <- Result[T]{ID: item.ID, Result: result, Err: err}
			}
		}()
	}

	for _, item := range items {
		feed <- item
	}
	close(feed)
	wg.Wait()
	close(out)

	results := make([]Result[T], 0, len(items))
	failed := 0
	for res := range out {
		if res.Err != nil {
			failed++
		}
		results = append(results, res)
	}

	pool.logger.Debug("fan-out complete",
		zap.Int("items", len(items)),
		zap.Int("failed", failed))
	return results
}
