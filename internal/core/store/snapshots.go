package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LoadSnapshot returns the persisted snapshot for queryID. found is false
// when none exists.
func (s *Store) LoadSnapshot(ctx context.Context, queryID string) ([]byte, time.Time, bool, error) {
	if s == nil || s.DB == nil {
		return nil, time.Time{}, false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	queryID = strings.TrimSpace(queryID)
	if queryID == "" {
		return nil, time.Time{}, false, errors.New("query id is required")
	}

	var (
		payload    string
		capturedAt int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT payload, captured_at
		FROM query_snapshots
		WHERE query_id = ?
	`, queryID)
	if err := row.Scan(&payload, &capturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("fetch snapshot: %w", err)
	}

	return []byte(payload), time.UnixMilli(capturedAt).UTC(), true, nil
}

// SaveSnapshot replaces the persisted snapshot for queryID. The original
// capture time is kept so a restored snapshot ages correctly.
func (s *Store) SaveSnapshot(ctx context.Context, queryID string, payload []byte, capturedAt time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	queryID = strings.TrimSpace(queryID)
	if queryID == "" {
		return errors.New("query id is required")
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO query_snapshots (query_id, payload, captured_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query_id) DO UPDATE SET
			payload = excluded.payload,
			captured_at = excluded.captured_at,
			updated_at = excluded.updated_at
	`, queryID, string(payload), capturedAt.UTC().UnixMilli(), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	return nil
}

// DeleteSnapshots removes the snapshots of the given query ids, or every
// snapshot when none are given.
func (s *Store) DeleteSnapshots(ctx context.Context, queryIDs ...string) error {
	if len(queryIDs) == 0 {
		_, err := s.ResetSnapshots(ctx, SnapshotQuery{All: true})
		return err
	}
	for _, id := range queryIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if _, err := s.ResetSnapshots(ctx, SnapshotQuery{QueryID: id}); err != nil {
			return err
		}
	}
	return nil
}
