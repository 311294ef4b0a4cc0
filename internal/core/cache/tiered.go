package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core"
)

// SnapshotStore persists snapshots so they survive a restart.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, queryID string) ([]byte, time.Time, bool, error)
	SaveSnapshot(ctx context.Context, queryID string, payload []byte, capturedAt time.Time) error
	DeleteSnapshots(ctx context.Context, queryIDs ...string) error
}

// Tiered keeps exactly one snapshot per query id. The fresh, extended and
// emergency tiers are freshness predicates over that snapshot, so all three
// are present or absent together.
type Tiered[T any] struct {
	Policy Policy
	Store  SnapshotStore
	Clock  func() time.Time
	Logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]core.CacheEntry[T]
}

// Get returns the snapshot for queryID when it is valid for tier.
func (c *Tiered[T]) Get(ctx context.Context, queryID string, tier core.Tier) (core.CacheEntry[T], bool) {
	entry, ok := c.snapshot(ctx, queryID)
	if !ok || !c.valid(entry, tier) {
		return core.CacheEntry[T]{}, false
	}
	return entry, true
}

// IsValid reports whether the snapshot for queryID satisfies tier.
func (c *Tiered[T]) IsValid(ctx context.Context, queryID string, tier core.Tier) bool {
	_, ok := c.Get(ctx, queryID, tier)
	return ok
}

// Set replaces the snapshot for queryID, updating every tier at once.
func (c *Tiered[T]) Set(ctx context.Context, queryID string, payload T) core.CacheEntry[T] {
	entry := core.CacheEntry[T]{Payload: payload, CapturedAt: c.now()}

	c.mu.Lock()
	if c.entries == nil {
		c.entries = make(map[string]core.CacheEntry[T])
	}
	c.entries[queryID] = entry
	c.mu.Unlock()

	c.persist(ctx, queryID, entry)
	return entry
}

// Invalidate drops the snapshots for the given query ids, bypassing their
// ttl. With no ids every snapshot is dropped, persisted ones included.
func (c *Tiered[T]) Invalidate(ctx context.Context, queryIDs ...string) []string {
	all := len(queryIDs) == 0

	c.mu.Lock()
	if all {
		queryIDs = make([]string, 0, len(c.entries))
		for id := range c.entries {
			queryIDs = append(queryIDs, id)
		}
		c.entries = nil
	} else {
		for _, id := range queryIDs {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()

	if c.Store != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		var err error
		if all {
			err = c.Store.DeleteSnapshots(ctx)
		} else {
			err = c.Store.DeleteSnapshots(ctx, queryIDs...)
		}
		if err != nil && c.Logger != nil {
			c.Logger.Warn("Failed to delete persisted snapshots", zap.Error(err))
		}
	}

	sort.Strings(queryIDs)
	return queryIDs
}

// Keys lists the query ids with a snapshot in memory.
func (c *Tiered[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for id := range c.entries {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// Age returns the age of the snapshot for queryID, if one exists.
func (c *Tiered[T]) Age(ctx context.Context, queryID string) (time.Duration, bool) {
	entry, ok := c.snapshot(ctx, queryID)
	if !ok {
		return 0, false
	}
	return entry.Age(c.now()), true
}

func (c *Tiered[T]) valid(entry core.CacheEntry[T], tier core.Tier) bool {
	limit := window(c.Policy, tier)
	if limit == 0 {
		return true
	}
	return entry.Age(c.now()) <= limit
}

func (c *Tiered[T]) snapshot(ctx context.Context, queryID string) (core.CacheEntry[T], bool) {
	c.mu.RLock()
	entry, ok := c.entries[queryID]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}
	return c.restore(ctx, queryID)
}

func (c *Tiered[T]) restore(ctx context.Context, queryID string) (core.CacheEntry[T], bool) {
	if c.Store == nil {
		return core.CacheEntry[T]{}, false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, capturedAt, found, err := c.Store.LoadSnapshot(ctx, queryID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("Failed to load persisted snapshot", zap.String("query", queryID), zap.Error(err))
		}
		return core.CacheEntry[T]{}, false
	}
	if !found {
		return core.CacheEntry[T]{}, false
	}

	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("Discarding undecodable snapshot", zap.String("query", queryID), zap.Error(err))
		}
		return core.CacheEntry[T]{}, false
	}

	entry := core.CacheEntry[T]{Payload: payload, CapturedAt: capturedAt}

	c.mu.Lock()
	if c.entries == nil {
		c.entries = make(map[string]core.CacheEntry[T])
	}
	if current, ok := c.entries[queryID]; ok && current.CapturedAt.After(capturedAt) {
		entry = current
	} else {
		c.entries[queryID] = entry
	}
	c.mu.Unlock()

	return entry, true
}

func (c *Tiered[T]) persist(ctx context.Context, queryID string, entry core.CacheEntry[T]) {
	if c.Store == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, err := json.Marshal(entry.Payload)
	if err == nil {
		err = c.Store.SaveSnapshot(ctx, queryID, raw, entry.CapturedAt)
	}
	if err != nil && c.Logger != nil {
		c.Logger.Warn("Failed to persist snapshot", zap.String("query", queryID), zap.Error(err))
	}
}

func (c *Tiered[T]) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
