package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labgate/labgate/internal/core"
)

type memorySnapshotStore struct {
	mu       sync.Mutex
	payloads map[string][]byte
	captured map[string]time.Time
}

func (m *memorySnapshotStore) LoadSnapshot(ctx context.Context, queryID string) ([]byte, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.payloads[queryID]
	return raw, m.captured[queryID], ok, nil
}

func (m *memorySnapshotStore) SaveSnapshot(ctx context.Context, queryID string, payload []byte, capturedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payloads == nil {
		m.payloads = make(map[string][]byte)
		m.captured = make(map[string]time.Time)
	}
	m.payloads[queryID] = payload
	m.captured[queryID] = capturedAt
	return nil
}

func (m *memorySnapshotStore) DeleteSnapshots(ctx context.Context, queryIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(queryIDs) == 0 {
		m.payloads = nil
		m.captured = nil
		return nil
	}
	for _, id := range queryIDs {
		delete(m.payloads, id)
		delete(m.captured, id)
	}
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func sampleRecords() []core.Record {
	return []core.Record{{Key: "0x01", OwnerAddress: "0xabc", Status: core.StatusBooked}}
}

func newCache(clock *fakeClock) *Tiered[[]core.Record] {
	return &Tiered[[]core.Record]{
		Policy: Policy{FreshTTL: 30 * time.Second, ExtendedTTL: 300 * time.Second},
		Clock:  clock.Now,
	}
}

func TestTieredRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := newCache(clock)

	payload := sampleRecords()
	cache.Set(ctx, "lab:1", payload)

	entry, ok := cache.Get(ctx, "lab:1", core.TierFresh)
	require.True(t, ok)
	require.Equal(t, payload, entry.Payload)
	require.Zero(t, entry.Age(clock.Now()))
}

func TestTieredFreshnessWindows(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := newCache(clock)
	cache.Set(ctx, "lab:1", sampleRecords())

	clock.Advance(31 * time.Second)
	require.False(t, cache.IsValid(ctx, "lab:1", core.TierFresh))
	require.True(t, cache.IsValid(ctx, "lab:1", core.TierExtended))
	require.True(t, cache.IsValid(ctx, "lab:1", core.TierEmergency))

	clock.Advance(5 * time.Minute)
	require.False(t, cache.IsValid(ctx, "lab:1", core.TierExtended))
	require.True(t, cache.IsValid(ctx, "lab:1", core.TierEmergency))

	age, ok := cache.Age(ctx, "lab:1")
	require.True(t, ok)
	require.Equal(t, 331*time.Second, age)
}

func TestTieredTiersMoveTogether(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cache := newCache(clock)

	for _, tier := range []core.Tier{core.TierFresh, core.TierExtended, core.TierEmergency} {
		require.False(t, cache.IsValid(ctx, "lab:1", tier))
	}

	cache.Set(ctx, "lab:1", sampleRecords())
	for _, tier := range []core.Tier{core.TierFresh, core.TierExtended, core.TierEmergency} {
		require.True(t, cache.IsValid(ctx, "lab:1", tier))
	}

	cache.Invalidate(ctx, "lab:1")
	for _, tier := range []core.Tier{core.TierFresh, core.TierExtended, core.TierEmergency} {
		require.False(t, cache.IsValid(ctx, "lab:1", tier))
	}
}

func TestTieredInvalidateAll(t *testing.T) {
	ctx := context.Background()
	cache := newCache(newClock())
	cache.Set(ctx, "lab:2", sampleRecords())
	cache.Set(ctx, "lab:1", sampleRecords())

	removed := cache.Invalidate(ctx)
	require.Equal(t, []string{"lab:1", "lab:2"}, removed)
	require.Empty(t, cache.Keys())
}

func TestTieredRestoresPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := &memorySnapshotStore{}

	first := newCache(clock)
	first.Store = store
	first.Set(ctx, "lab:1", sampleRecords())

	clock.Advance(time.Hour)

	restarted := newCache(clock)
	restarted.Store = store

	_, fresh := restarted.Get(ctx, "lab:1", core.TierFresh)
	require.False(t, fresh)

	entry, ok := restarted.Get(ctx, "lab:1", core.TierEmergency)
	require.True(t, ok)
	require.Equal(t, sampleRecords(), entry.Payload)
	require.Equal(t, time.Hour, entry.Age(clock.Now()))

	restarted.Invalidate(ctx, "lab:1")
	_, ok = restarted.Get(ctx, "lab:1", core.TierEmergency)
	require.False(t, ok)
}

func TestPolicyDefaults(t *testing.T) {
	policy := policyWithDefaults(Policy{})
	require.Equal(t, DefaultFreshTTL, policy.FreshTTL)
	require.Equal(t, DefaultExtendedTTL, policy.ExtendedTTL)

	policy = policyWithDefaults(Policy{FreshTTL: time.Minute, ExtendedTTL: time.Second})
	require.Equal(t, time.Minute, policy.ExtendedTTL)
}
