package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/store"
)

// Store provides database operations for usage events and daily aggregates.
type Store struct {
	pool store.DBTX
}

// NewStore creates a usage Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

// RecordParams holds parameters for appending a usage event.
type RecordParams struct {
	TenantID   uuid.UUID
	APIKeyID   *uuid.UUID
	IdentityID *uuid.UUID
	EventName  string
	Units      int
	Metadata   map[string]any
}

// Record appends a usage event. Best-effort per spec.md §5's ordering
// guarantee ("usage event (separate, best-effort)") — callers log and
// continue on error rather than failing the triggering request.
func (s *Store) Record(ctx context.Context, p RecordParams) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_events (tenant_id, api_key_id, identity_id, event, units, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.TenantID, p.APIKeyID, p.IdentityID, p.EventName, p.Units, p.Metadata,
	)
	if err != nil {
		return fmt.Errorf("recording usage event: %w", err)
	}
	return nil
}

// ListEvents returns usage events for a tenant within [from, to], newest first.
func (s *Store) ListEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit, offset int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, api_key_id, identity_id, event, units, metadata, created_at
		FROM usage_events
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		tenantID, from, to, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing usage events: %w", err)
	}
	defer rows.Close()

	var items []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TenantID, &e.APIKeyID, &e.IdentityID, &e.EventName, &e.Units, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage event row: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// ListDaily returns daily aggregates for a tenant within [from, to] dates.
func (s *Store) ListDaily(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Daily, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, date, event, units
		FROM usage_daily
		WHERE tenant_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date DESC, event ASC`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("listing usage daily: %w", err)
	}
	defer rows.Close()

	var items []Daily
	for rows.Next() {
		var d Daily
		if err := rows.Scan(&d.TenantID, &d.Date, &d.EventName, &d.Units); err != nil {
			return nil, fmt.Errorf("scanning usage daily row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// AggregateDate recomputes usage_daily for a single UTC date from the raw
// usage_events rows. It is idempotent (I5/P9): it recomputes the absolute
// SUM and upserts it, rather than incrementing, so running it twice for the
// same date yields identical rows.
func (s *Store) AggregateDate(ctx context.Context, date time.Time) error {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_daily (tenant_id, date, event, units)
		SELECT tenant_id, $1::date, event, SUM(units)
		FROM usage_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY tenant_id, event
		ON CONFLICT (tenant_id, date, event) DO UPDATE SET units = excluded.units`,
		dayStart, dayEnd,
	)
	if err != nil {
		return fmt.Errorf("aggregating usage for %s: %w", dayStart.Format("2006-01-02"), err)
	}
	return nil
}
