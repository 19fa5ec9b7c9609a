package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/store"
)

// Store provides the Postgres fallback path used when the cache is
// unavailable (spec.md §4.6 Fallback).
type Store struct {
	pool store.DBTX
}

// NewStore creates a ratelimit Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

// IncrWindow opens (or reuses) the current window row for
// (clientKey, endpoint) and increments request_count, matching the fast
// path's Incr contract: it returns the post-increment count and the
// window's end time.
func (s *Store) IncrWindow(ctx context.Context, clientKey, endpoint string, window time.Duration, tenantID *uuid.UUID) (count int64, windowEnd time.Time, err error) {
	now := time.Now()
	windowStart := now.Truncate(window)
	windowEnd = windowStart.Add(window)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO rate_limits (client_key, endpoint, window_start, request_count, last_request_at, tenant_id)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (client_key, endpoint, window_start)
		DO UPDATE SET request_count = rate_limits.request_count + 1, last_request_at = excluded.last_request_at
		RETURNING request_count`,
		clientKey, endpoint, windowStart, now, tenantID,
	)
	if err := row.Scan(&count); err != nil {
		return 0, time.Time{}, store.Translate(err, "")
	}
	return count, windowEnd, nil
}

// CleanupOlderThan drops RateLimit rows whose window started before the
// cutoff, the cleanup_rate_limits worker job (spec.md §4.11: "window_start
// < now - 24h").
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
