package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labgate/labgate/internal/config"
	"github.com/labgate/labgate/internal/core"
	apperrors "github.com/labgate/labgate/internal/errors"
	"github.com/labgate/labgate/internal/reservations"
)

type stubReads struct{}

func (stubReads) LabReservations(ctx context.Context, labID string) (core.QueryResult[[]core.Record], error) {
	return core.QueryResult[[]core.Record]{
		Items:  []core.Record{{Key: "0x01", LabID: labID}},
		Source: core.SourceLive,
	}, nil
}

func (stubReads) UserReservations(ctx context.Context, address string) (core.QueryResult[[]core.Record], error) {
	return core.QueryResult[[]core.Record]{Items: []core.Record{}, Source: core.SourceFresh}, nil
}

func (stubReads) Providers(ctx context.Context) (core.QueryResult[[]core.Provider], error) {
	return core.QueryResult[[]core.Provider]{}, core.ErrAllFallbacksExhausted
}

func (stubReads) Diagnostics(ctx context.Context, queryIDs ...string) []core.Diagnostics {
	return nil
}

func (stubReads) Invalidate(ctx context.Context, queryIDs ...string) []string {
	return queryIDs
}

func (stubReads) SubmitTransaction(ctx context.Context, rawTx string, invalidate []string) (reservations.Submission, error) {
	return reservations.Submission{TxHash: "0x01"}, nil
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: 5 * time.Second}
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(testServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
	if body.Error.RequestID == "" {
		t.Fatalf("expected request id in error body")
	}
}

func TestServerWithoutReadsHasNoAPI(t *testing.T) {
	srv := New(testServerConfig(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 without read service, got %d", rec.Code)
	}
}

func TestServerMountsReadRoutes(t *testing.T) {
	srv := New(testServerConfig(), stubReads{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/labs/12/reservations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Items  []core.Record `json:"items"`
		Source string        `json:"source"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Source != "live" || len(body.Items) != 1 || body.Items[0].LabID != "12" {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 when fallbacks are exhausted, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/providers", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestAdminEndpointDisabledWithoutToken(t *testing.T) {
	t.Setenv(AdminTokenEnv, "")
	srv := New(testServerConfig(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected admin endpoint to be absent, got %d", rec.Code)
	}
}

func TestServerAddr(t *testing.T) {
	srv := New(config.ServerConfig{Host: "0.0.0.0", Port: 8080}, nil)
	if srv.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr %s", srv.Addr())
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown before start should be a no-op: %v", err)
	}
}
