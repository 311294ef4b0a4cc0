package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labgate/labgate/internal/core"
)

// JSON-RPC methods exposed by the ledger gateway contract.
const (
	MethodRecordCount        = "ledger_recordCount"
	MethodRecordKeyByIndex   = "ledger_recordKeyByIndex"
	MethodGetRecord          = "ledger_getRecord"
	MethodGetProviders       = "ledger_getProviders"
	MethodSendRawTransaction = "ledger_sendRawTransaction"
)

// revertCode is the JSON-RPC error code nodes use for reverted calls.
const revertCode = 3

const maxResponseBytes = 8 << 20

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// transport posts one JSON-RPC request to one endpoint and classifies the
// outcome into the read-layer error taxonomy.
type transport struct {
	client    *http.Client
	userAgent string
}

func (t *transport) call(ctx context.Context, address, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait := retryAfterHeader(resp); wait > 0 {
			return nil, fmt.Errorf("%w: retry after %s", core.ErrRateLimited, wait)
		}
		return nil, core.ErrRateLimited
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: status %d", core.ErrConnectionFailure, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected ledger response status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecodeFailure, err)
	}
	if decoded.Error != nil {
		return nil, classifyRPCError(decoded.Error)
	}
	return decoded.Result, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", core.ErrConnectionFailure, err)
}

func classifyRPCError(rpcErr *rpcError) error {
	message := strings.ToLower(rpcErr.Message)
	switch {
	case rpcErr.Code == revertCode || strings.Contains(message, "execution reverted"):
		return fmt.Errorf("%w: %s", core.ErrUpstreamRevert, rpcErr.Message)
	case rpcErr.Code == -32005 || strings.Contains(message, "rate limit") || strings.Contains(message, "too many requests"):
		return fmt.Errorf("%w: %s", core.ErrRateLimited, rpcErr.Message)
	default:
		return rpcErr
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}
	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0
	}
	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return time.Until(parsed)
	}
	return 0
}
