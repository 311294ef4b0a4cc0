// Package ledger reads lab reservations and providers from the ledger
// gateway over JSON-RPC 2.0.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/core/endpoint"
	"github.com/labgate/labgate/internal/core/engine"
)

// DefaultUserAgent identifies labgate to upstream nodes.
const DefaultUserAgent = "labgate"

// Client implements the ledger read contracts on top of an endpoint
// registry. Every read walks the network's pool in tier order; retries are
// left to the caller's retry policy.
type Client struct {
	HTTPClient *http.Client
	Registry   *endpoint.Registry
	Network    string
	Executor   *engine.Executor
	Governor   *engine.Governor
	Random     func() float64
	Logger     *logging.Logger
	UserAgent  string
}

// RecordCount returns how many records the ledger holds for scope.
func (c *Client) RecordCount(ctx context.Context, scope core.Scope) (int, error) {
	raw, err := c.read(ctx, MethodRecordCount, string(scope.Kind), scopeParam(scope))
	if err != nil {
		if core.IsNotFoundLike(err) {
			return 0, nil
		}
		return 0, err
	}
	return decodeCount(raw)
}

// RecordKeyAt resolves the index-th record of scope to its stable key.
func (c *Client) RecordKeyAt(ctx context.Context, scope core.Scope, index int) (core.RecordKey, error) {
	if index < 0 {
		return "", fmt.Errorf("negative record index %d: %w", index, core.ErrNotFound)
	}
	raw, err := c.read(ctx, MethodRecordKeyByIndex, string(scope.Kind), scopeParam(scope), formatIndex(index))
	if err != nil {
		return "", err
	}
	return decodeKey(raw)
}

// Record fetches a single record. A missing or reverted key yields
// core.ErrNotFound or core.ErrUpstreamRevert.
func (c *Client) Record(ctx context.Context, key core.RecordKey) (core.Record, error) {
	if strings.TrimSpace(string(key)) == "" {
		return core.Record{}, core.ErrNotFound
	}
	raw, err := c.read(ctx, MethodGetRecord, string(key))
	if err != nil {
		return core.Record{}, err
	}
	return decodeRecord(raw, key)
}

// Providers lists the lab providers registered on the ledger.
func (c *Client) Providers(ctx context.Context) ([]core.Provider, error) {
	raw, err := c.read(ctx, MethodGetProviders)
	if err != nil {
		return nil, err
	}
	providers, skipped, err := decodeProviders(raw)
	if skipped > 0 && c.Logger != nil {
		c.Logger.Warn("Skipped malformed provider entries",
			zap.Int("skipped", skipped),
			zap.Int("decoded", len(providers)))
	}
	return providers, err
}

// SendRawTransaction submits a signed transaction exactly once to the most
// preferred endpoint and returns the transaction hash. It is never retried
// and never moves on to another endpoint.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	rawTx = strings.TrimSpace(rawTx)
	if rawTx == "" {
		return "", errors.New("raw transaction is required")
	}

	pool, err := c.pool(ctx)
	if err != nil {
		return "", err
	}
	ordered := pool.Ordered(c.Random)
	target := ordered[0]

	hash, err := engine.ExecuteOnce(ctx, c.Governor, func(ctx context.Context) (string, error) {
		return engine.Execute(ctx, c.Executor, target, func(ctx context.Context, ep core.EndpointDescriptor) (string, error) {
			raw, err := c.transport().call(ctx, ep.Address, MethodSendRawTransaction, rawTx)
			if err != nil {
				return "", err
			}
			var txHash string
			if err := json.Unmarshal(raw, &txHash); err != nil {
				return "", fmt.Errorf("%w: transaction hash: %v", core.ErrDecodeFailure, err)
			}
			return txHash, nil
		})
	})
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("Transaction submission failed",
				zap.String("endpoint", target.Name),
				zap.Error(err))
		}
		return "", err
	}

	if c.Logger != nil {
		c.Logger.Info("Transaction submitted",
			zap.String("endpoint", target.Name),
			zap.String("tx_hash", hash))
	}
	return hash, nil
}

func (c *Client) read(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	pool, err := c.pool(ctx)
	if err != nil {
		return nil, err
	}
	return endpoint.Call(ctx, pool, c.Executor, c.Random, func(ctx context.Context, ep core.EndpointDescriptor) (json.RawMessage, error) {
		return c.transport().call(ctx, ep.Address, method, params...)
	})
}

func (c *Client) pool(ctx context.Context) (*endpoint.Pool, error) {
	if c == nil || c.Registry == nil {
		return nil, core.ErrNoEndpointsAvailable
	}
	return c.Registry.Get(ctx, c.Network)
}

func (c *Client) transport() *transport {
	userAgent := c.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &transport{client: client, userAgent: userAgent}
}

func scopeParam(scope core.Scope) string {
	return strings.ToLower(strings.TrimSpace(scope.ID))
}
