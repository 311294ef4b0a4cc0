package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/labgate/labgate/internal/core"
	apperrors "github.com/labgate/labgate/internal/errors"
	"github.com/labgate/labgate/internal/reservations"
)

// ReadService is the read layer as seen by the HTTP API.
type ReadService interface {
	LabReservations(ctx context.Context, labID string) (core.QueryResult[[]core.Record], error)
	UserReservations(ctx context.Context, address string) (core.QueryResult[[]core.Record], error)
	Providers(ctx context.Context) (core.QueryResult[[]core.Provider], error)
	Diagnostics(ctx context.Context, queryIDs ...string) []core.Diagnostics
	Invalidate(ctx context.Context, queryIDs ...string) []string
	SubmitTransaction(ctx context.Context, rawTx string, invalidate []string) (reservations.Submission, error)
}

// QueryResponse is the body of every collection query.
type QueryResponse struct {
	Items      any        `json:"items"`
	Source     string     `json:"source"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	AgeSeconds float64    `json:"age_seconds"`
	Warning    string     `json:"warning,omitempty"`
}

// DiagnosticsResponse lists the state of cached queries.
type DiagnosticsResponse struct {
	Queries []core.Diagnostics `json:"queries"`
}

// InvalidateRequest names the queries to drop; empty drops all.
type InvalidateRequest struct {
	Queries []string `json:"queries"`
}

// InvalidateResponse lists the dropped queries.
type InvalidateResponse struct {
	Invalidated []string `json:"invalidated"`
}

// TransactionRequest carries a signed transaction to forward.
type TransactionRequest struct {
	RawTx      string   `json:"raw_tx"`
	Invalidate []string `json:"invalidate"`
}

// ReadHandlers serves the /api/v1 routes.
type ReadHandlers struct {
	Service ReadService
}

// LabReservations handles GET /api/v1/labs/{labID}/reservations.
func (h *ReadHandlers) LabReservations(w http.ResponseWriter, r *http.Request) {
	labID := strings.TrimSpace(chi.URLParam(r, "labID"))
	if err := reservations.ValidateScope(core.Scope{Kind: core.ScopeLab, ID: labID}); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid lab id"))
		return
	}

	result, err := h.Service.LabReservations(r.Context(), labID)
	if err != nil {
		respondWithError(w, r, apperrors.WrapReadError(r.Context(), err, "lab reservations unavailable"))
		return
	}
	respondJSON(w, http.StatusOK, newQueryResponse(result))
}

// UserReservations handles GET /api/v1/users/{address}/reservations.
func (h *ReadHandlers) UserReservations(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if err := reservations.ValidateScope(core.Scope{Kind: core.ScopeUser, ID: address}); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid user address"))
		return
	}

	result, err := h.Service.UserReservations(r.Context(), address)
	if err != nil {
		respondWithError(w, r, apperrors.WrapReadError(r.Context(), err, "user reservations unavailable"))
		return
	}
	respondJSON(w, http.StatusOK, newQueryResponse(result))
}

// Providers handles GET /api/v1/providers.
func (h *ReadHandlers) Providers(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Providers(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapReadError(r.Context(), err, "providers unavailable"))
		return
	}
	respondJSON(w, http.StatusOK, newQueryResponse(result))
}

// Diagnostics handles GET /api/v1/diagnostics?query=<id>.
func (h *ReadHandlers) Diagnostics(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range r.URL.Query()["query"] {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	diags := h.Service.Diagnostics(r.Context(), ids...)
	if diags == nil {
		diags = []core.Diagnostics{}
	}
	respondJSON(w, http.StatusOK, DiagnosticsResponse{Queries: diags})
}

// Invalidate handles POST /api/v1/cache/invalidate.
func (h *ReadHandlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid invalidation request"))
		return
	}

	dropped := h.Service.Invalidate(r.Context(), req.Queries...)
	if dropped == nil {
		dropped = []string{}
	}
	respondJSON(w, http.StatusOK, InvalidateResponse{Invalidated: dropped})
}

// SubmitTransaction handles POST /api/v1/transactions.
func (h *ReadHandlers) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid transaction request"))
		return
	}

	rawTx := strings.TrimSpace(req.RawTx)
	if !strings.HasPrefix(rawTx, "0x") || len(rawTx) <= 2 {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), errors.New("raw_tx must be 0x-prefixed hex"), "invalid transaction request"))
		return
	}

	submission, err := h.Service.SubmitTransaction(r.Context(), rawTx, req.Invalidate)
	if err != nil {
		respondWithError(w, r, apperrors.WrapReadError(r.Context(), err, "transaction submission failed"))
		return
	}
	respondJSON(w, http.StatusAccepted, submission)
}

func newQueryResponse[T any](result core.QueryResult[T]) QueryResponse {
	resp := QueryResponse{
		Items:      result.Items,
		Source:     string(result.Source),
		AgeSeconds: result.Age.Seconds(),
		Warning:    result.Warning,
	}
	if !result.CapturedAt.IsZero() {
		captured := result.CapturedAt
		resp.CapturedAt = &captured
	}
	return resp
}
