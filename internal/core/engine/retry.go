package engine

import (
	"context"
	"math"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/metrics"
)

// Retry defaults.
const (
	DefaultMaxRetries    = 2
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultBackoffFactor = 2.0
	DefaultMaxDelay      = 10 * time.Second
)

// RetryPolicy retries idempotent reads on transient failures with
// exponential backoff. It must never wrap state-mutating calls; those go
// through ExecuteOnce.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Classifier    Classifier
	Governor      *Governor
	Sleep         SleepFunc
	Logger        *logging.Logger
}

// Do invokes op up to MaxRetries+1 times. Non-retryable failures are
// returned as-is after the first attempt; the final retryable failure is
// returned as *core.RetryError.
func (p *RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	maxRetries := p.maxRetries()
	classify := p.classifier()
	sleep := p.sleeper()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			if p != nil && p.Logger != nil {
				p.Logger.Debug("Retrying upstream read",
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
					zap.Error(lastErr))
			}
			metrics.RecordRetry()
			if err := sleep(ctx, delay); err != nil {
				break
			}
		}

		if p != nil && p.Governor != nil {
			if err := p.Governor.Wait(ctx, sleep); err != nil {
				break
			}
		}

		attempts++
		err := op(ctx)
		if err == nil {
			if p != nil {
				p.Governor.Clear()
			}
			return nil
		}
		lastErr = err

		if IsRateLimitSignal(err) && p != nil {
			p.Governor.RecordSignal()
		}
		if !classify(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return &core.RetryError{Attempts: attempts, Err: lastErr}
}

// Delay returns the backoff before attempt n (n >= 1): BaseDelay *
// BackoffFactor^n, capped at MaxDelay.
func (p *RetryPolicy) Delay(n int) time.Duration {
	base := DefaultBaseDelay
	factor := DefaultBackoffFactor
	maxDelay := DefaultMaxDelay
	if p != nil {
		if p.BaseDelay > 0 {
			base = p.BaseDelay
		}
		if p.BackoffFactor >= 1 {
			factor = p.BackoffFactor
		}
		if p.MaxDelay > 0 {
			maxDelay = p.MaxDelay
		}
	}

	delay := time.Duration(float64(base) * math.Pow(factor, float64(n)))
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func (p *RetryPolicy) maxRetries() int {
	if p == nil || p.MaxRetries < 0 {
		return 0
	}
	return p.MaxRetries
}

func (p *RetryPolicy) classifier() Classifier {
	if p != nil && p.Classifier != nil {
		return p.Classifier
	}
	return IsRetryable
}

func (p *RetryPolicy) sleeper() SleepFunc {
	if p != nil && p.Sleep != nil {
		return p.Sleep
	}
	return Sleep
}

// Retry runs op under policy p and returns its value.
func Retry[T any](ctx context.Context, p *RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var value T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// ExecuteOnce runs a state-mutating op exactly once. It never retries and
// never waits out a cooldown, so a submission cannot be duplicated. A
// rate-limit failure is still recorded on the governor.
func ExecuteOnce[T any](ctx context.Context, governor *Governor, op func(context.Context) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	value, err := op(ctx)
	if err != nil {
		if IsRateLimitSignal(err) {
			governor.RecordSignal()
		}
		return value, err
	}
	return value, nil
}
