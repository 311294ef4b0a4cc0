package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SnapshotEntry describes one persisted snapshot without its payload.
type SnapshotEntry struct {
	QueryID    string    `json:"query_id"`
	CapturedAt time.Time `json:"captured_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Bytes      int       `json:"bytes"`
}

type SnapshotQuery struct {
	All     bool
	QueryID string
	Prefix  string
}

func (q SnapshotQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.QueryID) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, a query id, or --prefix")
}

func (q SnapshotQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if id := strings.TrimSpace(q.QueryID); id != "" {
		return "WHERE query_id = ?", []any{id}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE query_id LIKE ?", []any{prefix + "%"}, nil
}

func (s *Store) ListSnapshots(ctx context.Context, q SnapshotQuery) ([]SnapshotEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT query_id, captured_at, updated_at, LENGTH(payload)
		FROM query_snapshots
		%s
		ORDER BY query_id
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []SnapshotEntry{}
	for rows.Next() {
		var (
			queryID    string
			capturedAt int64
			updatedAt  int64
			size       int
		)
		if err := rows.Scan(&queryID, &capturedAt, &updatedAt, &size); err != nil {
			return nil, fmt.Errorf("scan snapshots: %w", err)
		}
		entries = append(entries, SnapshotEntry{
			QueryID:    queryID,
			CapturedAt: time.UnixMilli(capturedAt).UTC(),
			UpdatedAt:  time.UnixMilli(updatedAt).UTC(),
			Bytes:      size,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	return entries, nil
}

func (s *Store) ResetSnapshots(ctx context.Context, q SnapshotQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM query_snapshots
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset snapshots: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset snapshots: %w", err)
	}
	return affected, nil
}
