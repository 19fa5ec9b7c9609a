package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/store"
	"github.com/nimbusid/core/pkg/tenant"
)

const policyColumns = `id, role, rule, description, priority, is_active, tenant_id, created_at, updated_at`

// Store provides database operations for policies.
type Store struct {
	pool store.DBTX
}

// NewStore creates a policy Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	var raw []byte
	if err := row.Scan(&p.ID, &p.Role, &raw, &p.Description, &p.Priority, &p.IsActive, &p.TenantID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Policy{}, err
	}
	if err := json.Unmarshal(raw, &p.Rule); err != nil {
		return Policy{}, fmt.Errorf("decoding policy rule: %w", err)
	}
	return p, nil
}

// CreateParams holds parameters for creating a policy.
type CreateParams struct {
	Role        string
	Rule        Rule
	Description *string
	Priority    int
	TenantID    *uuid.UUID
}

// Create inserts a new policy. Rule.validate() runs first so malformed
// rules are rejected at write time, never at evaluation time
// (spec.md §4.5: PolicyMalformed "on write only").
func (s *Store) Create(ctx context.Context, p CreateParams) (Policy, error) {
	if err := p.Rule.validate(); err != nil {
		return Policy{}, apierr.Wrap(apierr.KindPolicyMalformed, err.Error(), err)
	}
	raw, err := json.Marshal(p.Rule)
	if err != nil {
		return Policy{}, apierr.Wrap(apierr.KindPolicyMalformed, "rule is not serializable", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO policies (role, rule, description, priority, is_active, tenant_id)
		VALUES ($1, $2, $3, $4, true, $5)
		RETURNING `+policyColumns,
		p.Role, raw, p.Description, p.Priority, p.TenantID,
	)
	out, err := scanPolicy(row)
	if err != nil {
		return Policy{}, store.Translate(err, "policy not found")
	}
	return out, nil
}

// Get returns a policy by ID, scoped by tenant.
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Policy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		return Policy{}, store.Translate(err, "policy not found")
	}
	if !scope.Allows(rowTenant(p.TenantID)) {
		return Policy{}, store.Translate(pgx.ErrNoRows, "policy not found")
	}
	return p, nil
}

// List returns policies visible to scope.
func (s *Store) List(ctx context.Context, scope tenant.Scope, limit, offset int) ([]Policy, error) {
	var rows pgx.Rows
	var err error
	if scope.System {
		rows, err = s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY priority DESC, created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE tenant_id = $1 OR tenant_id IS NULL ORDER BY priority DESC, created_at ASC LIMIT $2 OFFSET $3`, scope.TenantID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing policies: %w", err)
	}
	defer rows.Close()

	var items []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ActiveForRole returns active policies visible to scope for a specific
// role, the set Evaluate caches (spec.md §4.5 step 1).
func (s *Store) ActiveForRole(ctx context.Context, scope tenant.Scope, role string) ([]Policy, error) {
	var rows pgx.Rows
	var err error
	if scope.System {
		rows, err = s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE role = $1 AND is_active = true`, role)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+policyColumns+` FROM policies WHERE role = $1 AND is_active = true AND (tenant_id = $2 OR tenant_id IS NULL)`, role, scope.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing active policies: %w", err)
	}
	defer rows.Close()

	var items []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// Update replaces a policy's mutable fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, rule Rule, description *string, priority int, isActive bool) (Policy, error) {
	if err := rule.validate(); err != nil {
		return Policy{}, apierr.Wrap(apierr.KindPolicyMalformed, err.Error(), err)
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return Policy{}, apierr.Wrap(apierr.KindPolicyMalformed, "rule is not serializable", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE policies SET rule = $2, description = $3, priority = $4, is_active = $5, updated_at = now()
		WHERE id = $1 RETURNING `+policyColumns,
		id, raw, description, priority, isActive,
	)
	out, err := scanPolicy(row)
	if err != nil {
		return Policy{}, store.Translate(err, "policy not found")
	}
	return out, nil
}

// Delete removes a single policy.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return store.Translate(err, "policy not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "policy not found")
	}
	return nil
}

// BulkDelete removes every policy whose ID is in ids and that scope may
// write to, returning the count actually deleted
// (spec.md §4 supplemented feature: POST /policy/bulk-delete).
func (s *Store) BulkDelete(ctx context.Context, scope tenant.Scope, ids []uuid.UUID) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	if scope.System {
		tag, err = s.pool.Exec(ctx, `DELETE FROM policies WHERE id = ANY($1) AND tenant_id IS NULL`, ids)
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM policies WHERE id = ANY($1) AND tenant_id = $2`, ids, scope.TenantID)
	}
	if err != nil {
		return 0, fmt.Errorf("bulk deleting policies: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowTenant(t *uuid.UUID) uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return *t
}
