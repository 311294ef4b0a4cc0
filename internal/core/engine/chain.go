package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/core/cache"
	"github.com/labgate/labgate/internal/metrics"
)

// EmergencyWarning is attached to results served from a snapshot older than
// the extended window.
const EmergencyWarning = "serving stale emergency snapshot; upstream unavailable"

// Chain answers collection queries in a fixed order: fresh cache, live
// fetch, extended cache, emergency cache, static fallback. Callers get some
// answer whenever a snapshot has ever been captured.
type Chain[T any] struct {
	Collection string
	Cache      *cache.Tiered[T]
	Fallback   func(queryID string) (T, bool)
	Governor   *Governor
	Clock      func() time.Time
	Logger     *logging.Logger

	group  singleflight.Group
	mu     sync.Mutex
	status map[string]queryStatus
}

type queryStatus struct {
	lastError  string
	lastSource core.Source
	lastQuery  time.Time
}

// Query returns the current view for queryID. live is invoked only when the
// fresh snapshot is missing or expired; concurrent misses for the same query
// share one live call.
func (c *Chain[T]) Query(ctx context.Context, queryID string, live func(context.Context) (T, error)) (core.QueryResult[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if entry, ok := c.Cache.Get(ctx, queryID, core.TierFresh); ok {
		return c.answer(queryID, core.SourceFresh, entry, "", nil), nil
	}

	payload, liveErr := c.fetchLive(ctx, queryID, live)
	if liveErr == nil {
		entry := c.Cache.Set(ctx, queryID, payload)
		return c.answer(queryID, core.SourceLive, entry, "", nil), nil
	}

	if c.Logger != nil {
		c.Logger.Warn("Live fetch failed, degrading",
			zap.String("collection", c.Collection),
			zap.String("query", queryID),
			zap.Error(liveErr))
	}

	if entry, ok := c.Cache.Get(ctx, queryID, core.TierExtended); ok {
		return c.answer(queryID, core.SourceExtended, entry, "", liveErr), nil
	}
	if entry, ok := c.Cache.Get(ctx, queryID, core.TierEmergency); ok {
		return c.answer(queryID, core.SourceEmergency, entry, EmergencyWarning, liveErr), nil
	}
	if c.Fallback != nil {
		if payload, ok := c.Fallback(queryID); ok {
			entry := core.CacheEntry[T]{Payload: payload}
			return c.answer(queryID, core.SourceFallback, entry, "", liveErr), nil
		}
	}

	c.record(queryID, "", liveErr)
	metrics.RecordReadSource(c.Collection, "exhausted")
	return core.QueryResult[T]{}, fmt.Errorf("%w: %w", core.ErrAllFallbacksExhausted, liveErr)
}

// Invalidate drops cached snapshots so the next query goes live. With no ids
// every snapshot of the collection is dropped.
func (c *Chain[T]) Invalidate(ctx context.Context, queryIDs ...string) []string {
	removed := c.Cache.Invalidate(ctx, queryIDs...)
	metrics.RecordCacheInvalidation(c.Collection, len(removed))
	if c.Logger != nil && len(removed) > 0 {
		c.Logger.Info("Invalidated cached snapshots",
			zap.String("collection", c.Collection),
			zap.Strings("queries", removed))
	}
	return removed
}

// Diagnostics reports cache and rate-limit state for queryID.
func (c *Chain[T]) Diagnostics(ctx context.Context, queryID string) core.Diagnostics {
	diag := core.Diagnostics{QueryID: queryID}

	if age, ok := c.Cache.Age(ctx, queryID); ok {
		diag.HasSnapshot = true
		diag.CacheAge = age
		diag.CacheAgeSecs = age.Seconds()
		diag.CacheValid = c.Cache.IsValid(ctx, queryID, core.TierFresh)
	}

	state := c.Governor.State()
	diag.RateLimited = state.IsLimited
	diag.Cooldown = c.Governor.ShouldCooldown()
	diag.CooldownSecs = diag.Cooldown.Seconds()

	c.mu.Lock()
	status, ok := c.status[queryID]
	c.mu.Unlock()
	if ok {
		diag.LastError = status.lastError
		diag.LastSource = status.lastSource
		at := status.lastQuery
		diag.LastQueryAt = &at
	}
	return diag
}

// QueryIDs lists every query id the chain has answered or cached.
func (c *Chain[T]) QueryIDs() []string {
	seen := make(map[string]struct{})
	for _, id := range c.Cache.Keys() {
		seen[id] = struct{}{}
	}
	c.mu.Lock()
	for id := range c.status {
		seen[id] = struct{}{}
	}
	c.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Chain[T]) fetchLive(ctx context.Context, queryID string, live func(context.Context) (T, error)) (T, error) {
	var zero T
	if live == nil {
		return zero, fmt.Errorf("no live fetch for %s", queryID)
	}

	// The fetch is shared by every caller waiting on queryID, so one caller
	// going away must not cancel it for the rest. Per-call and per-item
	// timeouts still bound it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(queryID, func() (any, error) {
		return live(shared)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Chain[T]) answer(queryID string, source core.Source, entry core.CacheEntry[T], warning string, liveErr error) core.QueryResult[T] {
	c.record(queryID, source, liveErr)
	metrics.RecordReadSource(c.Collection, string(source))

	result := core.QueryResult[T]{
		Items:      entry.Payload,
		Source:     source,
		CapturedAt: entry.CapturedAt,
		Warning:    warning,
	}
	if !entry.CapturedAt.IsZero() {
		result.Age = entry.Age(c.now())
	}
	if warning != "" && c.Logger != nil {
		c.Logger.Warn(warning,
			zap.String("collection", c.Collection),
			zap.String("query", queryID),
			zap.Duration("age", result.Age))
	}
	return result
}

func (c *Chain[T]) record(queryID string, source core.Source, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		c.status = make(map[string]queryStatus)
	}

	status := c.status[queryID]
	status.lastQuery = c.now()
	if source != "" {
		status.lastSource = source
	}
	if err != nil {
		status.lastError = err.Error()
	} else if source == core.SourceLive {
		status.lastError = ""
	}
	c.status[queryID] = status
}

func (c *Chain[T]) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
