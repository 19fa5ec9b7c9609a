// Package audit implements the audit half of C10. Entries are structural
// (event_type, actor, resource, before/after snapshots) following the
// teacher's internal/audit.Entry shape, but unlike the teacher's
// fire-and-forget buffered Writer (internal/audit/audit.go — a channel
// drained by a background goroutine), spec.md §4.10/I4 requires the audit
// row be written in the SAME transaction as the mutation it records. Write
// therefore takes the caller's open pgx.Tx directly; there is no async
// buffering here; that tradeoff is recorded in DESIGN.md.
package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// Entry is a single audit log row to be written (spec.md §3 AuditLog).
type Entry struct {
	EventType    string
	ActorID      *uuid.UUID
	ResourceID   *uuid.UUID
	ResourceType string
	BeforeState  json.RawMessage
	AfterState   json.RawMessage
	Meta         map[string]any
	IP           string
	UserAgent    string
	TenantID     *uuid.UUID
}

// Writer writes audit rows. It holds no pool of its own: every write
// executes against the pgx.Tx the caller passes in, so the row lands in the
// same transaction as the mutation it documents.
type Writer struct{}

// NewWriter creates an audit Writer.
func NewWriter() *Writer { return &Writer{} }

// Write inserts one audit row on tx. Call this as the last statement of a
// mutation's transaction, immediately before commit.
func (w *Writer) Write(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (event_type, actor_id, resource_id, resource_type, before_state, after_state, meta, ip, user_agent, tenant_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		e.EventType, e.ActorID, e.ResourceID, e.ResourceType, e.BeforeState, e.AfterState, e.Meta, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), e.TenantID,
	)
	return err
}

// EntryFromRequest builds an Entry pre-populated with actor/tenant/ip/user-agent
// extracted from the request context, mirroring the teacher's
// LogFromRequest convenience constructor.
func EntryFromRequest(r *http.Request, eventType, resourceType string, resourceID *uuid.UUID) Entry {
	e := Entry{
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserAgent:    r.Header.Get("User-Agent"),
		IP:           clientIP(r),
	}

	if p := identity.FromContext(r.Context()); p != nil {
		id := p.Identity.ID
		e.ActorID = &id
	}
	if scope := tenant.FromContext(r.Context()); !scope.System {
		tid := scope.TenantID
		e.TenantID = &tid
	}
	return e
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// snapshot marshals v to JSON for before/after state, returning nil on a nil v.
func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Snapshot is the exported form of snapshot, used by handler code across
// packages to build BeforeState/AfterState payloads.
func Snapshot(v any) json.RawMessage { return snapshot(v) }
