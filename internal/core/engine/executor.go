package engine

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/metrics"
)

// Executor issues single upstream calls. It holds no retry logic: one call
// is one attempt against one endpoint.
type Executor struct {
	Pacer  *Pacer
	Logger *logging.Logger
	Clock  func() time.Time
}

// Execute runs op against ep under the endpoint's per-call timeout. Failures
// are returned as *core.CallError carrying the endpoint identity.
func Execute[T any](ctx context.Context, x *Executor, ep core.EndpointDescriptor, op func(context.Context, core.EndpointDescriptor) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	if x != nil && x.Pacer != nil {
		if err := x.Pacer.Wait(ctx, ep.Name); err != nil {
			return zero, &core.CallError{Endpoint: ep.Name, Tier: ep.Tier, Err: err}
		}
	}

	startedAt := x.now()
	value, err := WithTimeout(ctx, ep.PerCallTimeout, func(callCtx context.Context) (T, error) {
		return op(callCtx, ep)
	})
	elapsed := x.now().Sub(startedAt)

	if err != nil {
		metrics.RecordUpstreamCall(ep.Tier, "failure")
		if x != nil && x.Logger != nil {
			x.Logger.Debug("Upstream call failed",
				zap.String("endpoint", ep.Name),
				zap.Int("tier", ep.Tier),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		}
		return zero, &core.CallError{Endpoint: ep.Name, Tier: ep.Tier, Err: err}
	}

	metrics.RecordUpstreamCall(ep.Tier, "success")
	return value, nil
}

func (x *Executor) now() time.Time {
	if x != nil && x.Clock != nil {
		return x.Clock()
	}
	return time.Now().UTC()
}
