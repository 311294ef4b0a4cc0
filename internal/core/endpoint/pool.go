// Package endpoint builds and caches the prioritized upstream endpoint pool
// of each ledger network and runs calls against it with tier fallback.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/core/engine"
)

// DefaultTTL is how long a built pool is reused before it is rebuilt.
const DefaultTTL = 24 * time.Hour

// Pool is the ordered set of endpoints for one network.
type Pool struct {
	Network   string
	Endpoints []core.EndpointDescriptor
	BuiltAt   time.Time
	TTL       time.Duration
}

// Expired reports whether the pool must be rebuilt.
func (p *Pool) Expired(now time.Time) bool {
	if p == nil {
		return true
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(p.BuiltAt) >= ttl
}

// Ordered returns the endpoints by ascending tier. Within a tier the order
// is a weighted shuffle, so heavier endpoints tend to come first without
// starving the rest.
func (p *Pool) Ordered(random func() float64) []core.EndpointDescriptor {
	if p == nil || len(p.Endpoints) == 0 {
		return nil
	}
	if random == nil {
		random = rand.Float64
	}

	byTier := make(map[int][]core.EndpointDescriptor)
	tiers := make([]int, 0)
	for _, ep := range p.Endpoints {
		if _, ok := byTier[ep.Tier]; !ok {
			tiers = append(tiers, ep.Tier)
		}
		byTier[ep.Tier] = append(byTier[ep.Tier], ep)
	}
	sort.Ints(tiers)

	ordered := make([]core.EndpointDescriptor, 0, len(p.Endpoints))
	for _, tier := range tiers {
		ordered = append(ordered, weightedShuffle(byTier[tier], random)...)
	}
	return ordered
}

func weightedShuffle(endpoints []core.EndpointDescriptor, random func() float64) []core.EndpointDescriptor {
	remaining := append([]core.EndpointDescriptor(nil), endpoints...)
	out := make([]core.EndpointDescriptor, 0, len(remaining))

	for len(remaining) > 0 {
		total := 0
		for _, ep := range remaining {
			total += weightOf(ep)
		}

		pick := random() * float64(total)
		index := len(remaining) - 1
		for i, ep := range remaining {
			pick -= float64(weightOf(ep))
			if pick < 0 {
				index = i
				break
			}
		}

		out = append(out, remaining[index])
		remaining = append(remaining[:index], remaining[index+1:]...)
	}
	return out
}

func weightOf(ep core.EndpointDescriptor) int {
	if ep.Weight <= 0 {
		return 1
	}
	return ep.Weight
}

// BuildFunc constructs the endpoints for a network.
type BuildFunc func(ctx context.Context, network string) ([]core.EndpointDescriptor, error)

// Registry hands out pools per network. A pool is built lazily on first use,
// reused until its ttl expires or it is invalidated, and built at most once
// at a time per network.
type Registry struct {
	Build  BuildFunc
	TTL    time.Duration
	Clock  func() time.Time
	Logger *logging.Logger

	group singleflight.Group
	mu    sync.RWMutex
	pools map[string]*Pool
}

// Get returns the pool for network, building it when needed. An empty pool
// is a configuration error and yields core.ErrNoEndpointsAvailable.
func (r *Registry) Get(ctx context.Context, network string) (*Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	network = strings.ToLower(strings.TrimSpace(network))

	r.mu.RLock()
	pool, ok := r.pools[network]
	r.mu.RUnlock()
	if ok && !pool.Expired(r.now()) {
		return pool, nil
	}

	value, err, _ := r.group.Do(network, func() (any, error) {
		r.mu.RLock()
		current, ok := r.pools[network]
		r.mu.RUnlock()
		if ok && !current.Expired(r.now()) {
			return current, nil
		}
		return r.build(ctx, network)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Pool), nil
}

// Invalidate drops the cached pool for network so the next Get rebuilds it.
func (r *Registry) Invalidate(network string) {
	network = strings.ToLower(strings.TrimSpace(network))

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, network)
}

// SetBuild swaps the build function, e.g. after a config reload, and drops
// every cached pool so the next Get of any network uses it.
func (r *Registry) SetBuild(build BuildFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Build = build
	r.pools = nil
}

func (r *Registry) build(ctx context.Context, network string) (*Pool, error) {
	r.mu.RLock()
	buildFn := r.Build
	r.mu.RUnlock()
	if buildFn == nil {
		return nil, fmt.Errorf("network %q: %w", network, core.ErrNoEndpointsAvailable)
	}

	endpoints, err := buildFn(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("build endpoint pool for %q: %w", network, err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("network %q: %w", network, core.ErrNoEndpointsAvailable)
	}

	pool := &Pool{
		Network:   network,
		Endpoints: endpoints,
		BuiltAt:   r.now(),
		TTL:       r.TTL,
	}

	r.mu.Lock()
	if r.pools == nil {
		r.pools = make(map[string]*Pool)
	}
	r.pools[network] = pool
	r.mu.Unlock()

	if r.Logger != nil {
		r.Logger.Info("Endpoint pool built",
			zap.String("network", network),
			zap.Int("endpoints", len(endpoints)))
	}
	return pool, nil
}

func (r *Registry) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

// Call runs op against the pool's endpoints in order until one succeeds
// (quorum of one). A not-found style answer is authoritative and returned
// at once; transient failures move on to the next endpoint.
func Call[T any](ctx context.Context, pool *Pool, exec *engine.Executor, random func() float64, op func(context.Context, core.EndpointDescriptor) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if pool == nil || len(pool.Endpoints) == 0 {
		return zero, core.ErrNoEndpointsAvailable
	}

	ordered := pool.Ordered(random)
	errs := make([]error, 0, len(ordered))
	for _, ep := range ordered {
		value, err := engine.Execute(ctx, exec, ep, op)
		if err == nil {
			return value, nil
		}
		if core.IsNotFoundLike(err) {
			return zero, err
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	return zero, fmt.Errorf("all %d endpoints failed: %w", len(ordered), errors.Join(errs...))
}
