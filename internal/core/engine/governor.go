package engine

import (
	"context"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/metrics"
)

// DefaultCooldown is the window enforced after a rate-limit signal.
const DefaultCooldown = 10 * time.Second

// Governor tracks rate-limit signals from the upstream and tells callers
// how long to hold off before the next call. One Governor is shared by every
// consumer in the process.
type Governor struct {
	Cooldown time.Duration
	Clock    func() time.Time
	Logger   *logging.Logger

	mu    sync.Mutex
	state core.RateLimitState
}

// RecordSignal registers one rate-limit signal.
func (g *Governor) RecordSignal() {
	if g == nil {
		return
	}

	g.mu.Lock()
	g.state.IsLimited = true
	g.state.LastSignalAt = g.now()
	g.state.ConsecutiveCount++
	count := g.state.ConsecutiveCount
	g.mu.Unlock()

	metrics.RecordRateLimitSignal()
	if g.Logger != nil {
		g.Logger.Warn("Upstream rate limit signalled",
			zap.Int("consecutive", count),
			zap.Duration("cooldown", g.cooldown()))
	}
}

// ShouldCooldown returns the remaining part of the cooldown window, or zero
// when not limited or the window has elapsed.
func (g *Governor) ShouldCooldown() time.Duration {
	if g == nil {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.IsLimited {
		return 0
	}
	remaining := g.state.LastSignalAt.Add(g.cooldown()).Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// Clear resets the state after a successful call.
func (g *Governor) Clear() {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = core.RateLimitState{}
}

// State returns a copy of the current state.
func (g *Governor) State() core.RateLimitState {
	if g == nil {
		return core.RateLimitState{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Wait sleeps out any remaining cooldown. Concurrent waiters may all sleep
// the same window.
func (g *Governor) Wait(ctx context.Context, sleep SleepFunc) error {
	wait := g.ShouldCooldown()
	if wait <= 0 {
		return nil
	}
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, wait)
}

func (g *Governor) cooldown() time.Duration {
	if g.Cooldown > 0 {
		return g.Cooldown
	}
	return DefaultCooldown
}

func (g *Governor) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}
