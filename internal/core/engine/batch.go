package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/metrics"
)

// Batch defaults.
const (
	DefaultBatchConcurrency = 4
	DefaultBatchPause       = 100 * time.Millisecond
	DefaultItemTimeout      = 15 * time.Second
)

// BatchFetcher drives many small reads under a concurrency cap. Items are
// dispatched in windows of at most Concurrency in-flight calls with a short
// pause between windows. A failing item never aborts the batch.
type BatchFetcher struct {
	Concurrency int
	Pause       time.Duration
	ItemTimeout time.Duration
	Retry       *RetryPolicy
	Sleep       SleepFunc
	Logger      *logging.Logger
}

// BatchResult holds the items that were fetched, in input order.
type BatchResult[T any] struct {
	Succeeded   []T
	FailedCount int
	Failures    []ItemFailure
}

// ItemFailure records why one item was excluded.
type ItemFailure struct {
	Index int
	Err   error
}

// Job describes the batch that fetching n items with f would run.
func (f *BatchFetcher) Job(n int) core.BatchJob {
	return core.BatchJob{
		ItemCount:        n,
		ConcurrencyLimit: f.concurrency(),
		PerItemTimeout:   f.itemTimeout(),
	}
}

// FetchAll fetches every key with fetch. Each item goes through the retry
// policy on its own; failures are counted and left out of Succeeded.
func FetchAll[K any, T any](ctx context.Context, f *BatchFetcher, keys []K, fetch func(context.Context, K) (T, error)) BatchResult[T] {
	return fetchBatch(ctx, f, keys, fetch, true)
}

func fetchBatch[K any, T any](ctx context.Context, f *BatchFetcher, keys []K, fetch func(context.Context, K) (T, error), withRetry bool) BatchResult[T] {
	if ctx == nil {
		ctx = context.Background()
	}

	job := f.Job(len(keys))
	values := make([]T, len(keys))
	errs := make([]error, len(keys))

	for start := 0; start < len(keys); start += job.ConcurrencyLimit {
		end := min(start+job.ConcurrencyLimit, len(keys))

		if start > 0 {
			if err := f.sleeper()(ctx, f.pause()); err != nil {
				for i := start; i < len(keys); i++ {
					errs[i] = err
				}
				break
			}
		}

		var g errgroup.Group
		g.SetLimit(job.ConcurrencyLimit)
		for i := start; i < end; i++ {
			g.Go(func() error {
				values[i], errs[i] = fetchItem(ctx, f, job.PerItemTimeout, keys[i], fetch, withRetry)
				return nil
			})
		}
		_ = g.Wait()
	}

	result := BatchResult[T]{Succeeded: make([]T, 0, len(keys))}
	for i := range keys {
		if errs[i] != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, ItemFailure{Index: i, Err: errs[i]})
			continue
		}
		result.Succeeded = append(result.Succeeded, values[i])
	}

	metrics.RecordBatchItems(len(result.Succeeded), result.FailedCount)
	if result.FailedCount > 0 && f != nil && f.Logger != nil {
		f.Logger.Debug("Batch fetch completed with failures",
			zap.Int("items", len(keys)),
			zap.Int("failed", result.FailedCount),
			zap.Error(result.Failures[0].Err))
	}
	return result
}

// FetchIndexed runs a two-step lookup for count items: resolve each index to
// a key, then fetch the record behind the key. A failure at either step
// excludes the item.
func FetchIndexed[T any](ctx context.Context, f *BatchFetcher, count int,
	resolve func(context.Context, int) (core.RecordKey, error),
	fetch func(context.Context, core.RecordKey) (T, error),
) BatchResult[T] {
	if count < 0 {
		count = 0
	}
	indexes := make([]int, count)
	for i := range indexes {
		indexes[i] = i
	}

	return fetchBatch(ctx, f, indexes, func(ctx context.Context, index int) (T, error) {
		var zero T
		key, err := Retry(ctx, f.retry(), func(ctx context.Context) (core.RecordKey, error) {
			return resolve(ctx, index)
		})
		if err != nil {
			return zero, fmt.Errorf("resolve index %d: %w", index, err)
		}
		return Retry(ctx, f.retry(), func(ctx context.Context) (T, error) {
			return fetch(ctx, key)
		})
	}, false)
}

func fetchItem[K any, T any](ctx context.Context, f *BatchFetcher, timeout time.Duration, key K, fetch func(context.Context, K) (T, error), withRetry bool) (T, error) {
	return WithTimeout(ctx, timeout, func(ctx context.Context) (T, error) {
		if !withRetry {
			return fetch(ctx, key)
		}
		return Retry(ctx, f.retry(), func(ctx context.Context) (T, error) {
			return fetch(ctx, key)
		})
	})
}

func (f *BatchFetcher) concurrency() int {
	if f == nil || f.Concurrency <= 0 {
		return DefaultBatchConcurrency
	}
	return f.Concurrency
}

func (f *BatchFetcher) pause() time.Duration {
	if f == nil || f.Pause < 0 {
		return 0
	}
	if f.Pause == 0 {
		return DefaultBatchPause
	}
	return f.Pause
}

func (f *BatchFetcher) itemTimeout() time.Duration {
	if f == nil || f.ItemTimeout == 0 {
		return DefaultItemTimeout
	}
	return f.ItemTimeout
}

func (f *BatchFetcher) retry() *RetryPolicy {
	if f == nil {
		return nil
	}
	return f.Retry
}

func (f *BatchFetcher) sleeper() SleepFunc {
	if f != nil && f.Sleep != nil {
		return f.Sleep
	}
	return Sleep
}
