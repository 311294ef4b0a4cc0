// Package reservations answers collection queries (lab reservations, user
// reservations, providers) through the resilient read layer.
package reservations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core"
	"github.com/labgate/labgate/internal/core/cache"
	"github.com/labgate/labgate/internal/core/engine"
)

// ProvidersQueryID is the cache key of the provider list.
const ProvidersQueryID = "providers"

// Collection names used in logs and metrics.
const (
	CollectionReservations = "reservations"
	CollectionProviders    = "providers"
)

// RecordReader is the ledger read contract the service consumes.
type RecordReader interface {
	RecordCount(ctx context.Context, scope core.Scope) (int, error)
	RecordKeyAt(ctx context.Context, scope core.Scope, index int) (core.RecordKey, error)
	Record(ctx context.Context, key core.RecordKey) (core.Record, error)
	Providers(ctx context.Context) ([]core.Provider, error)
}

// TransactionSender submits signed state-changing transactions.
type TransactionSender interface {
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
}

// FallbackSource serves pre-generated data when nothing else is available.
type FallbackSource interface {
	Reservations(scope core.Scope) ([]core.Record, bool)
	Providers() ([]core.Provider, bool)
}

// Options configures a Service.
type Options struct {
	Reader   RecordReader
	Sender   TransactionSender
	Fallback FallbackSource
	Policy   cache.Policy
	Store    cache.SnapshotStore
	Governor *engine.Governor
	Retry    *engine.RetryPolicy
	Batch    *engine.BatchFetcher
	Clock    func() time.Time
	Logger   *logging.Logger
}

// Service owns the caches and degradation chains of every collection. One
// Service is built per process and shared by all consumers.
type Service struct {
	reader   RecordReader
	sender   TransactionSender
	governor *engine.Governor
	retry    *engine.RetryPolicy
	batch    *engine.BatchFetcher
	logger   *logging.Logger

	records   *engine.Chain[[]core.Record]
	providers *engine.Chain[[]core.Provider]
}

// New wires a Service from opts.
func New(opts Options) *Service {
	s := &Service{
		reader:   opts.Reader,
		sender:   opts.Sender,
		governor: opts.Governor,
		retry:    opts.Retry,
		batch:    opts.Batch,
		logger:   opts.Logger,
	}

	s.records = &engine.Chain[[]core.Record]{
		Collection: CollectionReservations,
		Cache: &cache.Tiered[[]core.Record]{
			Policy: opts.Policy,
			Store:  opts.Store,
			Clock:  opts.Clock,
			Logger: opts.Logger,
		},
		Governor: opts.Governor,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	}
	s.providers = &engine.Chain[[]core.Provider]{
		Collection: CollectionProviders,
		Cache: &cache.Tiered[[]core.Provider]{
			Policy: opts.Policy,
			Store:  opts.Store,
			Clock:  opts.Clock,
			Logger: opts.Logger,
		},
		Governor: opts.Governor,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	}

	if opts.Fallback != nil {
		fallback := opts.Fallback
		s.records.Fallback = func(queryID string) ([]core.Record, bool) {
			scope, ok := ParseQueryID(queryID)
			if !ok {
				return nil, false
			}
			return fallback.Reservations(scope)
		}
		s.providers.Fallback = func(string) ([]core.Provider, bool) {
			return fallback.Providers()
		}
	}
	return s
}

// LabReservations returns the reservations of one lab.
func (s *Service) LabReservations(ctx context.Context, labID string) (core.QueryResult[[]core.Record], error) {
	return s.Reservations(ctx, core.Scope{Kind: core.ScopeLab, ID: labID})
}

// UserReservations returns the reservations owned by one address.
func (s *Service) UserReservations(ctx context.Context, address string) (core.QueryResult[[]core.Record], error) {
	return s.Reservations(ctx, core.Scope{Kind: core.ScopeUser, ID: address})
}

// Reservations returns the reservations in scope through the degradation
// chain.
func (s *Service) Reservations(ctx context.Context, scope core.Scope) (core.QueryResult[[]core.Record], error) {
	if err := ValidateScope(scope); err != nil {
		return core.QueryResult[[]core.Record]{}, err
	}
	return s.records.Query(ctx, scope.QueryID(), func(ctx context.Context) ([]core.Record, error) {
		return s.fetchRecords(ctx, scope)
	})
}

// Providers returns the registered lab providers.
func (s *Service) Providers(ctx context.Context) (core.QueryResult[[]core.Provider], error) {
	return s.providers.Query(ctx, ProvidersQueryID, func(ctx context.Context) ([]core.Provider, error) {
		if s.reader == nil {
			return nil, core.ErrNoEndpointsAvailable
		}
		providers, err := engine.Retry(ctx, s.retry, s.reader.Providers)
		if err != nil {
			if core.IsNotFoundLike(err) {
				return []core.Provider{}, nil
			}
			return nil, err
		}
		return providers, nil
	})
}

// fetchRecords is the live fetch of one scope: count, then a batched
// index-to-key-to-record lookup. Items that cannot be read are dropped.
// When every item fails for a transient reason the fetch itself fails, so
// an outage never overwrites a good snapshot with an empty one.
func (s *Service) fetchRecords(ctx context.Context, scope core.Scope) ([]core.Record, error) {
	if s.reader == nil {
		return nil, core.ErrNoEndpointsAvailable
	}

	count, err := engine.Retry(ctx, s.retry, func(ctx context.Context) (int, error) {
		return s.reader.RecordCount(ctx, scope)
	})
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", scope.QueryID(), err)
	}

	result := engine.FetchIndexed(ctx, s.batch, count,
		func(ctx context.Context, index int) (core.RecordKey, error) {
			return s.reader.RecordKeyAt(ctx, scope, index)
		},
		s.reader.Record,
	)

	if count > 0 && len(result.Succeeded) == 0 {
		if err := firstTransientFailure(result.Failures); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", scope.QueryID(), err)
		}
	}
	if result.FailedCount > 0 && s.logger != nil {
		s.logger.Debug("Records excluded from result",
			zap.String("query", scope.QueryID()),
			zap.Int("count", count),
			zap.Int("failed", result.FailedCount))
	}

	records := result.Succeeded
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}

func firstTransientFailure(failures []engine.ItemFailure) error {
	for _, failure := range failures {
		if !core.IsNotFoundLike(failure.Err) {
			return failure.Err
		}
	}
	return nil
}

// Diagnostics reports the state of the given queries, or of every query
// seen so far when none are named.
func (s *Service) Diagnostics(ctx context.Context, queryIDs ...string) []core.Diagnostics {
	if len(queryIDs) == 0 {
		queryIDs = s.QueryIDs()
	}

	out := make([]core.Diagnostics, 0, len(queryIDs))
	for _, id := range queryIDs {
		id = NormalizeQueryID(id)
		if id == ProvidersQueryID {
			out = append(out, s.providers.Diagnostics(ctx, id))
			continue
		}
		out = append(out, s.records.Diagnostics(ctx, id))
	}
	return out
}

// QueryIDs lists every query id with a snapshot or query history.
func (s *Service) QueryIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range append(s.records.QueryIDs(), s.providers.QueryIDs()...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Invalidate drops every cache tier of the named queries immediately. With
// no ids all queries are dropped. It returns the ids that were dropped.
func (s *Service) Invalidate(ctx context.Context, queryIDs ...string) []string {
	if len(queryIDs) == 0 {
		dropped := s.records.Invalidate(ctx)
		return append(dropped, s.providers.Invalidate(ctx)...)
	}

	var recordIDs, providerIDs []string
	for _, id := range queryIDs {
		id = NormalizeQueryID(id)
		if id == "" {
			continue
		}
		if id == ProvidersQueryID {
			providerIDs = append(providerIDs, id)
		} else {
			recordIDs = append(recordIDs, id)
		}
	}

	var dropped []string
	if len(recordIDs) > 0 {
		dropped = append(dropped, s.records.Invalidate(ctx, recordIDs...)...)
	}
	if len(providerIDs) > 0 {
		dropped = append(dropped, s.providers.Invalidate(ctx, providerIDs...)...)
	}
	return dropped
}

// Submission is the outcome of a forwarded transaction.
type Submission struct {
	TxHash      string   `json:"tx_hash"`
	Invalidated []string `json:"invalidated"`
}

// SubmitTransaction forwards a signed transaction exactly once. The named
// queries are invalidated only after the ledger accepted it; readers
// converge within the fresh window otherwise.
func (s *Service) SubmitTransaction(ctx context.Context, rawTx string, invalidate []string) (Submission, error) {
	if s.sender == nil {
		return Submission{}, errors.New("transaction forwarding is not configured")
	}

	hash, err := s.sender.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return Submission{}, err
	}

	submission := Submission{TxHash: hash, Invalidated: []string{}}
	if len(invalidate) > 0 {
		submission.Invalidated = append(submission.Invalidated, s.Invalidate(ctx, invalidate...)...)
	}
	return submission, nil
}

// RateLimited reports the remaining governor cooldown.
func (s *Service) RateLimited() time.Duration {
	return s.governor.ShouldCooldown()
}

// ValidateScope rejects scopes the ledger cannot answer.
func ValidateScope(scope core.Scope) error {
	id := strings.TrimSpace(scope.ID)
	switch scope.Kind {
	case core.ScopeLab:
		if id == "" {
			return fmt.Errorf("lab id is required")
		}
		for _, r := range id {
			if r < '0' || r > '9' {
				return fmt.Errorf("lab id %q must be numeric", scope.ID)
			}
		}
	case core.ScopeUser:
		if !isAddress(id) {
			return fmt.Errorf("user address %q is not a 0x-prefixed 20-byte hex address", scope.ID)
		}
	default:
		return fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
	return nil
}

// ParseQueryID turns a record query id back into its scope.
func ParseQueryID(queryID string) (core.Scope, bool) {
	kind, id, ok := strings.Cut(NormalizeQueryID(queryID), ":")
	if !ok || id == "" {
		return core.Scope{}, false
	}
	scope := core.Scope{Kind: core.ScopeKind(kind), ID: id}
	if ValidateScope(scope) != nil {
		return core.Scope{}, false
	}
	return scope, true
}

// NormalizeQueryID lowercases and trims a query id.
func NormalizeQueryID(queryID string) string {
	return strings.ToLower(strings.TrimSpace(queryID))
}

func isAddress(value string) bool {
	if len(value) != 42 || !strings.HasPrefix(strings.ToLower(value), "0x") {
		return false
	}
	for _, r := range value[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
