package cmd

import (
	"context"
	"math/rand/v2"
	"net/http"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/config"
	"github.com/labgate/labgate/internal/core/cache"
	"github.com/labgate/labgate/internal/core/endpoint"
	"github.com/labgate/labgate/internal/core/engine"
	"github.com/labgate/labgate/internal/core/store"
	"github.com/labgate/labgate/internal/ledger"
	"github.com/labgate/labgate/internal/reservations"
)

// readRuntime is the wired read layer shared by serve and the one-shot
// query commands.
type readRuntime struct {
	Service  *reservations.Service
	Governor *engine.Governor
	Registry *endpoint.Registry
	Store    *store.Store

	network string
	logger  *logging.Logger
}

// buildRuntime wires the endpoint registry, executor, governor, retry
// policy, batch fetcher, ledger client and fallback dataset into one
// reservations.Service. The snapshot store is optional: when it cannot be
// opened the service runs with in-memory snapshots only.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*readRuntime, error) {
	rt := &readRuntime{network: cfg.Ledger.Network, logger: logger}

	pacer := &engine.Pacer{}
	pacer.ApplySafetyMargin(cfg.RateLimitMargin)
	if network, ok := cfg.ActiveNetwork(); ok {
		pacer.ApplyOverrides(endpoint.RateLimits(network))
	}
	pacer.ApplyOverrides(cfg.RateLimits)

	rt.Governor = &engine.Governor{
		Cooldown: cfg.Read.RateLimitCooldown,
		Logger:   logger,
	}
	retry := &engine.RetryPolicy{
		MaxRetries:    cfg.Read.MaxRetries,
		BaseDelay:     cfg.Read.BaseDelay,
		BackoffFactor: cfg.Read.BackoffFactor,
		MaxDelay:      cfg.Read.MaxDelay,
		Governor:      rt.Governor,
		Logger:        logger,
	}
	batch := &engine.BatchFetcher{
		Concurrency: cfg.Read.BatchConcurrency,
		Pause:       cfg.Read.BatchPause,
		ItemTimeout: cfg.Read.ItemTimeout,
		Retry:       retry,
		Logger:      logger,
	}

	rt.Registry = &endpoint.Registry{
		Build:  endpoint.FromConfig(cfg.Ledger, logger),
		TTL:    cfg.Read.PoolTTL,
		Logger: logger,
	}

	client := &ledger.Client{
		HTTPClient: &http.Client{},
		Registry:   rt.Registry,
		Network:    cfg.Ledger.Network,
		Executor:   &engine.Executor{Pacer: pacer, Logger: logger},
		Governor:   rt.Governor,
		Random:     rand.Float64,
		Logger:     logger,
	}

	fallback, err := ledger.LoadFallback(cfg.Read.FallbackDataset)
	if err != nil {
		return nil, err
	}

	opts := reservations.Options{
		Reader:   client,
		Sender:   client,
		Policy:   cache.Policy{FreshTTL: cfg.Read.FreshTTL, ExtendedTTL: cfg.Read.ExtendedTTL},
		Governor: rt.Governor,
		Retry:    retry,
		Batch:    batch,
		Logger:   logger,
	}
	if fallback != nil {
		opts.Fallback = fallback
	}

	if cfg.Store.Persist {
		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			if logger != nil {
				logger.Warn("Snapshot store unavailable, snapshots stay in memory",
					zap.String("store", storeLocation(cfg.Store)),
					zap.Error(err))
			}
		} else {
			rt.Store = db
			opts.Store = db
		}
	}

	rt.Service = reservations.New(opts)
	return rt, nil
}

// Close releases the snapshot store.
func (rt *readRuntime) Close() error {
	if rt == nil || rt.Store == nil {
		return nil
	}
	return rt.Store.Close()
}

// ReloadEndpoints rebuilds the endpoint pools from cfg's ledger settings.
// Switching the active network still needs a restart: the ledger client is
// bound to the network it was started with.
func (rt *readRuntime) ReloadEndpoints(cfg *config.Config) {
	if rt == nil || rt.Registry == nil || cfg == nil {
		return
	}
	rt.Registry.SetBuild(endpoint.FromConfig(cfg.Ledger, rt.logger))
	if cfg.Ledger.Network != rt.network && rt.logger != nil {
		rt.logger.Warn("Active ledger network changed; restart to apply",
			zap.String("running", rt.network),
			zap.String("configured", cfg.Ledger.Network))
	}
}
