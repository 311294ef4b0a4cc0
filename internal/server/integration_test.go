package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labgate/labgate/internal/config"
	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/core/cache"
	"github.com/labgate/labgate/internal/core/endpoint"
	"github.com/labgate/labgate/internal/core/engine"
	"github.com/labgate/labgate/internal/ledger"
	"github.com/labgate/labgate/internal/observability"
	"github.com/labgate/labgate/internal/reservations"
	"github.com/labgate/labgate/internal/server"
	"github.com/labgate/labgate/internal/server/handlers"
)

const ownerAddress = "0x5b38da6a701c568545dcfcb03fcb875f56beddc4"

// isPermissionError normalizes OS-specific permission errors so tests skip
// when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func listenOrSkip(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: loopback sockets unavailable: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

// fakeLedger is a JSON-RPC upstream holding two reservations of lab 7.
type fakeLedger struct {
	failing atomic.Bool
	calls   atomic.Int64
}

func (l *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.calls.Add(1)
	if l.failing.Load() {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var result any
	switch req.Method {
	case ledger.MethodRecordCount:
		result = "0x2"
	case ledger.MethodRecordKeyByIndex:
		var index string
		_ = json.Unmarshal(req.Params[2], &index)
		result = "0xabc" + strings.TrimPrefix(index, "0x")
	case ledger.MethodGetRecord:
		var key string
		_ = json.Unmarshal(req.Params[0], &key)
		start := int64(1748768400)
		if strings.HasSuffix(key, "0") {
			start += 7200
		}
		result = map[string]any{
			"labId":  7,
			"owner":  ownerAddress,
			"start":  start,
			"end":    start + 3600,
			"status": 1,
		}
	default:
		result = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newGateway(t *testing.T, upstream *fakeLedger) (*httptest.Server, *testClock) {
	t.Helper()

	upstreamListener := listenOrSkip(t)
	upstreamSrv := &httptest.Server{Listener: upstreamListener, Config: &http.Server{Handler: upstream}}
	upstreamSrv.Start()
	t.Cleanup(upstreamSrv.Close)

	clock := &testClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	governor := &engine.Governor{Clock: clock.Now}
	retry := &engine.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, Governor: governor, Sleep: noSleep}
	client := &ledger.Client{
		Registry: &endpoint.Registry{
			Build: func(ctx context.Context, network string) ([]core.EndpointDescriptor, error) {
				return []core.EndpointDescriptor{{Name: "local", Address: upstreamSrv.URL, Tier: endpoint.TierPremium, PerCallTimeout: 2 * time.Second}}, nil
			},
		},
		Network:  "devnet",
		Executor: &engine.Executor{},
		Governor: governor,
	}

	svc := reservations.New(reservations.Options{
		Reader:   client,
		Sender:   client,
		Policy:   cache.Policy{FreshTTL: 30 * time.Second, ExtendedTTL: 300 * time.Second},
		Governor: governor,
		Retry:    retry,
		Batch:    &engine.BatchFetcher{Concurrency: 2, Retry: retry, Sleep: noSleep},
		Clock:    clock.Now,
	})

	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, svc)
	gateway := &httptest.Server{Listener: listenOrSkip(t), Config: &http.Server{Handler: srv.Handler()}}
	gateway.Start()
	t.Cleanup(gateway.Close)
	return gateway, clock
}

type queryBody struct {
	Items   []core.Record `json:"items"`
	Source  string        `json:"source"`
	Warning string        `json:"warning"`
}

func getQuery(t *testing.T, client *http.Client, url string) (int, queryBody) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup

	var body queryBody
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func TestReadLayerDegradesThroughTiers(t *testing.T) {
	upstream := &fakeLedger{}
	gateway, clock := newGateway(t, upstream)
	client := gateway.Client()
	url := gateway.URL + "/api/v1/labs/7/reservations"

	status, body := getQuery(t, client, url)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "live", body.Source)
	require.Len(t, body.Items, 2)
	require.True(t, body.Items[0].StartTime.Before(body.Items[1].StartTime))
	require.Equal(t, ownerAddress, body.Items[0].OwnerAddress)
	require.Equal(t, core.StatusBooked, body.Items[0].Status)

	calls := upstream.calls.Load()
	status, body = getQuery(t, client, url)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "fresh", body.Source)
	require.Equal(t, calls, upstream.calls.Load())

	upstream.failing.Store(true)

	clock.Advance(35 * time.Second)
	status, body = getQuery(t, client, url)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "extended", body.Source)
	require.Len(t, body.Items, 2)

	clock.Advance(270 * time.Second)
	status, body = getQuery(t, client, url)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "emergency", body.Source)
	require.NotEmpty(t, body.Warning)

	resp, err := client.Post(gateway.URL+"/api/v1/cache/invalidate", "application/json", strings.NewReader(`{"queries":["lab:7"]}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ = getQuery(t, client, url)
	require.Equal(t, http.StatusServiceUnavailable, status)

	upstream.failing.Store(false)
	status, body = getQuery(t, client, url)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "live", body.Source)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	gateway, _ := newGateway(t, &fakeLedger{})
	client := gateway.Client()

	status, _ := getQuery(t, client, gateway.URL+"/api/v1/labs/7/reservations")
	require.Equal(t, http.StatusOK, status)

	resp, err := client.Get(gateway.URL + "/api/v1/diagnostics?query=lab:7")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck // test cleanup

	var body handlers.DiagnosticsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Queries, 1)
	require.Equal(t, "lab:7", body.Queries[0].QueryID)
	require.True(t, body.Queries[0].CacheValid)
	require.False(t, body.Queries[0].RateLimited)
	require.Equal(t, core.SourceLive, body.Queries[0].LastSource)
}

// initMetricsOrSkip starts the exporter; sandboxes that forbid binds skip.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

func TestMetricsEndpointReportsAPITraffic(t *testing.T) {
	observability.InitServerLogger("test", "info")
	initMetricsOrSkip(t)
	handlers.InitHealthManager("test")

	gateway, _ := newGateway(t, &fakeLedger{})
	client := gateway.Client()

	for i := 0; i < 5; i++ {
		status, _ := getQuery(t, client, gateway.URL+"/api/v1/labs/7/reservations")
		require.Equal(t, http.StatusOK, status)
	}
	resp, err := client.Get(gateway.URL + "/api/v1/labs/abc/reservations")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(gateway.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsContent := string(body)
	assert.Contains(t, metricsContent, "test_http_requests_total")
	assert.Contains(t, metricsContent, "test_http_request_duration_ms")
}
