package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labgate/labgate/internal/core"
)

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleep) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	sleeps := &recordingSleep{}
	policy := &RetryPolicy{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, BackoffFactor: 2, Sleep: sleeps.Sleep}

	calls := 0
	value, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", core.ErrTimeout
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", value)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, sleeps.Delays())
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3, Sleep: (&recordingSleep{}).Sleep}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return core.ErrUpstreamRevert
	})

	require.ErrorIs(t, err, core.ErrUpstreamRevert)
	require.Equal(t, 1, calls)

	var retryErr *core.RetryError
	require.False(t, errors.As(err, &retryErr))
}

func TestRetryExhaustedReportsAttempts(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 2, Sleep: (&recordingSleep{}).Sleep}

	err := policy.Do(context.Background(), func(ctx context.Context) error {
		return core.ErrConnectionFailure
	})

	var retryErr *core.RetryError
	require.True(t, errors.As(err, &retryErr))
	require.Equal(t, 3, retryErr.Attempts)
	require.ErrorIs(t, err, core.ErrConnectionFailure)
}

func TestRetryWaitsOutGovernorCooldown(t *testing.T) {
	clock := newTestClock()
	governor := &Governor{Cooldown: 10 * time.Second, Clock: clock.Now}
	sleeps := &recordingSleep{}
	policy := &RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  100 * time.Millisecond,
		Governor:   governor,
		Sleep:      sleeps.Sleep,
	}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return core.ErrRateLimited
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{200 * time.Millisecond, 10 * time.Second}, sleeps.Delays())
	require.False(t, governor.State().IsLimited)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{MaxRetries: 5, Sleep: (&recordingSleep{}).Sleep}

	calls := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return core.ErrTimeout
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, core.ErrTimeout)
}

func TestRetryDelayCapped(t *testing.T) {
	policy := &RetryPolicy{BaseDelay: 100 * time.Millisecond, BackoffFactor: 3, MaxDelay: time.Second}

	require.Equal(t, 300*time.Millisecond, policy.Delay(1))
	require.Equal(t, 900*time.Millisecond, policy.Delay(2))
	require.Equal(t, time.Second, policy.Delay(3))
	require.Equal(t, time.Second, policy.Delay(60))

	var defaults *RetryPolicy
	require.Equal(t, 2*DefaultBaseDelay, defaults.Delay(1))
}

func TestExecuteOnceNeverRetries(t *testing.T) {
	clock := newTestClock()
	governor := &Governor{Clock: clock.Now}

	calls := 0
	_, err := ExecuteOnce(context.Background(), governor, func(ctx context.Context) (string, error) {
		calls++
		return "", core.ErrRateLimited
	})

	require.ErrorIs(t, err, core.ErrRateLimited)
	require.Equal(t, 1, calls)
	require.True(t, governor.State().IsLimited)

	hash, err := ExecuteOnce(context.Background(), nil, func(ctx context.Context) (string, error) {
		return "0xhash", nil
	})
	require.NoError(t, err)
	require.Equal(t, "0xhash", hash)
}
