package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/store"
	"github.com/nimbusid/core/pkg/tenant"
)

// LogRow is the wire/read representation of an AuditLog row.
type LogRow struct {
	ID           uuid.UUID
	EventType    string
	ActorID      *uuid.UUID
	ResourceID   *uuid.UUID
	ResourceType string
	BeforeState  json.RawMessage
	AfterState   json.RawMessage
	Meta         map[string]any
	IP           *string
	UserAgent    *string
	TenantID     *uuid.UUID
	Timestamp    time.Time
}

const logColumns = `id, event_type, actor_id, resource_id, resource_type, before_state, after_state, meta, ip, user_agent, tenant_id, timestamp`

// Store provides read access to the append-only audit log. Write is only
// available through Writer.Write (inside the mutation's transaction).
type Store struct {
	pool store.DBTX
}

// NewStore creates an audit Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

// List returns audit log rows visible to scope, newest first.
func (s *Store) List(ctx context.Context, scope tenant.Scope, limit, offset int) ([]LogRow, error) {
	var rows pgx.Rows
	var err error
	if scope.System {
		rows, err = s.pool.Query(ctx, `SELECT `+logColumns+` FROM audit_logs ORDER BY timestamp DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+logColumns+` FROM audit_logs WHERE tenant_id = $1 OR tenant_id IS NULL ORDER BY timestamp DESC LIMIT $2 OFFSET $3`, scope.TenantID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}
	defer rows.Close()

	var items []LogRow
	for rows.Next() {
		var r LogRow
		if err := rows.Scan(&r.ID, &r.EventType, &r.ActorID, &r.ResourceID, &r.ResourceType, &r.BeforeState, &r.AfterState, &r.Meta, &r.IP, &r.UserAgent, &r.TenantID, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit log row: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
