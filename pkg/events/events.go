// Package events implements the Event Bus (C8): a durable IdentityEvent
// ledger written synchronously inside the triggering mutation's
// transaction, with asynchronous publish to the webhook pipeline after
// commit. Grounded on the teacher's audit package for the
// synchronous-write-inside-tx shape and on pkg/escalation/engine.go for the
// background dispatch loop this package's Bus hands events to.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/store"
)

// Event is the spec.md §3 IdentityEvent entity.
type Event struct {
	ID               uuid.UUID
	EventType        string
	IdentityID       *uuid.UUID
	ActorID          *uuid.UUID
	Payload          json.RawMessage
	Meta             map[string]any
	IsDelivered      bool
	DeliveryAttempts int
	DeliveredAt      *time.Time
	TenantID         *uuid.UUID
	CreatedAt        time.Time
}

// knownPrefixes is the catalog spec.md §4.8 names, plus "webhook.". Unknown prefixes are
// still accepted (and logged), never rejected.
var knownPrefixes = []string{"identity.", "memory.", "policy.", "api_key.", "invitation.", "session.", "rate_limit.", "webhook."}

// IsStandardType reports whether eventType matches the known catalog.
func IsStandardType(eventType string) bool {
	for _, p := range knownPrefixes {
		if len(eventType) >= len(p) && eventType[:len(p)] == p {
			return true
		}
	}
	return false
}

const eventColumns = `id, event_type, identity_id, actor_id, payload, meta, is_delivered, delivery_attempts, delivered_at, tenant_id, created_at`

// Store provides database operations for the IdentityEvent ledger.
type Store struct {
	pool store.DBTX
}

// NewStore creates an events Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

// AppendParams holds parameters for appending an event.
type AppendParams struct {
	EventType  string
	IdentityID *uuid.UUID
	ActorID    *uuid.UUID
	Payload    json.RawMessage
	Meta       map[string]any
	TenantID   *uuid.UUID
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	if err := row.Scan(&e.ID, &e.EventType, &e.IdentityID, &e.ActorID, &e.Payload, &e.Meta, &e.IsDelivered, &e.DeliveryAttempts, &e.DeliveredAt, &e.TenantID, &e.CreatedAt); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Append writes one event row on tx, the same transaction as the triggering
// mutation (spec.md §4.8: "Synchronous: writes an IdentityEvent row inside
// the mutation transaction").
func (s *Store) Append(ctx context.Context, tx pgx.Tx, p AppendParams) (Event, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO identity_events (event_type, identity_id, actor_id, payload, meta, is_delivered, delivery_attempts, tenant_id)
		VALUES ($1, $2, $3, $4, $5, false, 0, $6)
		RETURNING `+eventColumns,
		p.EventType, p.IdentityID, p.ActorID, p.Payload, p.Meta, p.TenantID,
	)
	return scanEvent(row)
}

// AppendStandalone writes one event row outside of any caller transaction,
// for events that aren't the side effect of a single entity mutation (e.g.
// rate_limit.exceeded, which spec.md §4.6 emits from the rate limiter
// itself rather than from a store write).
func (s *Store) AppendStandalone(ctx context.Context, p AppendParams) (Event, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO identity_events (event_type, identity_id, actor_id, payload, meta, is_delivered, delivery_attempts, tenant_id)
		VALUES ($1, $2, $3, $4, $5, false, 0, $6)
		RETURNING `+eventColumns,
		p.EventType, p.IdentityID, p.ActorID, p.Payload, p.Meta, p.TenantID,
	)
	return scanEvent(row)
}

// MarkDelivered flips is_delivered once every subscriber delivery is
// terminal (delivered or permanently failed).
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE identity_events SET is_delivered = true, delivered_at = now() WHERE id = $1`, id)
	return err
}

// Get returns an event by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM identity_events WHERE id = $1`, id)
	return scanEvent(row)
}
