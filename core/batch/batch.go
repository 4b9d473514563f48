// Package batch fans a function out over many items on a fixed pool of
// goroutines.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nendo/logger"
	"nendo/metrics"
)

// Progress is reported after every finished batch.
type Progress struct {
	Done      int
	Failed    int
	Total     int
	Elapsed   time.Duration
	Remaining time.Duration
}

// Runner holds the pool settings.
type Runner struct {
	MaxThreads int
	BatchSize  int
	Metrics    *metrics.Metrics
	// OnProgress, when set, is called from the collecting goroutine.
	OnProgress func(Progress)
}

// NewRunner creates a runner. Non-positive values fall back to one thread and
// batches of ten.
func NewRunner(maxThreads, batchSize int) *Runner {
	if maxThreads <= 0 {
		maxThreads = 1
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Runner{MaxThreads: maxThreads, BatchSize: batchSize}
}

type batchResult[R any] struct {
	index    int
	results  []R
	err      error
	duration time.Duration
}

// Run applies fn to every item. Items are split into consecutive batches of
// BatchSize that are processed on MaxThreads goroutines. Results are gathered
// in batch completion order. A batch with a failing item is logged and its
// results dropped, the other batches carry on. A single item is handed to fn
// directly and its error returned.
func Run[T, R any](ctx context.Context, r *Runner, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) == 1 {
		res, err := fn(ctx, items[0])
		if err != nil {
			return nil, err
		}
		return []R{res}, nil
	}

	batches := split(items, r.BatchSize)
	total := len(batches)
	workers := r.MaxThreads
	if workers <= 0 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	work := make(chan int)
	results := make(chan batchResult[R])

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results <- runBatch(ctx, idx, batches[idx], fn)
			}
		}()
	}
	go func() {
		defer close(work)
		for idx := range batches {
			select {
			case work <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	started := time.Now()
	var (
		out    []R
		done   int
		failed int
		sum    time.Duration
	)
	for res := range results {
		done++
		sum += res.duration
		avg := sum / time.Duration(done)
		remaining := avg * time.Duration(total-done)

		if res.err != nil {
			failed++
			logger.Error("[Batch] Batch failed, skipping",
				logger.Int("batch", res.index+1),
				logger.Int("total", total),
				logger.ErrorField(res.err))
		} else {
			out = append(out, res.results...)
		}
		logger.Info("[Batch] Batch processed",
			logger.Int("batch", res.index+1),
			logger.Int("total", total),
			logger.Duration("batch_time", res.duration),
			logger.Duration("estimated_total", avg*time.Duration(total)),
			logger.Duration("remaining", remaining))
		r.Metrics.RecordBatch(res.duration, remaining, res.err)
		if r.OnProgress != nil {
			r.OnProgress(Progress{
				Done:      done,
				Failed:    failed,
				Total:     total,
				Elapsed:   time.Since(started),
				Remaining: remaining,
			})
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func runBatch[T, R any](ctx context.Context, idx int, items []T, fn func(context.Context, T) (R, error)) (res batchResult[R]) {
	started := time.Now()
	res.index = idx
	defer func() {
		if p := recover(); p != nil {
			res.results = nil
			res.err = fmt.Errorf("panic: %v", p)
		}
		res.duration = time.Since(started)
	}()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			res.err = err
			res.results = nil
			return res
		}
		out, err := fn(ctx, item)
		if err != nil {
			res.err = err
			res.results = nil
			return res
		}
		res.results = append(res.results, out)
	}
	return res
}

func split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
