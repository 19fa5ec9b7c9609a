package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/store"
	"github.com/nimbusid/core/pkg/tenant"
)

const identityColumns = `id, external_id, role, claims, is_active, tenant_id, sso_provider, sso_external_id, created_at, updated_at`

// Store provides database operations for identities, following the
// teacher's pkg/apikey/store.go layout (typed Store wrapping *pgxpool.Pool,
// column-list constant, RETURNING-based writes).
type Store struct {
	pool store.DBTX
}

// NewStore creates an identity Store over a pool or an open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var r Identity
	if err := row.Scan(
		&r.ID, &r.ExternalID, &r.Role, &r.Claims, &r.IsActive, &r.TenantID,
		&r.SSOProvider, &r.SSOExternalID, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return Identity{}, err
	}
	return r, nil
}

// CreateParams holds parameters for creating an identity.
type CreateParams struct {
	ExternalID    string
	Role          string
	Claims        map[string]any
	TenantID      *uuid.UUID
	SSOProvider   *string
	SSOExternalID *string
}

// Create inserts a new identity.
func (s *Store) Create(ctx context.Context, p CreateParams) (Identity, error) {
	query := `INSERT INTO identities (external_id, role, claims, is_active, tenant_id, sso_provider, sso_external_id)
	VALUES ($1, $2, $3, true, $4, $5, $6)
	RETURNING ` + identityColumns

	row := s.pool.QueryRow(ctx, query, p.ExternalID, p.Role, p.Claims, p.TenantID, p.SSOProvider, p.SSOExternalID)
	id, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	return id, nil
}

// Get returns an identity by ID, scoped by tenant.
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	identRow, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	if !scope.Allows(rowTenant(identRow.TenantID)) {
		return Identity{}, store.Translate(pgx.ErrNoRows, "identity not found")
	}
	return identRow, nil
}

// GetByID resolves an identity by ID without tenant scoping, for internal
// callers that have already established the caller's authority by other
// means (the credential resolver, session refresh). Request handlers must
// use Get, not this, so that I1 tenant isolation is enforced.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	out, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	return out, nil
}

// GetByExternalID resolves an identity by its globally-unique external_id,
// used by the credential resolver's token path.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE external_id = $1`
	row := s.pool.QueryRow(ctx, query, externalID)
	id, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	return id, nil
}

// GetBySSO resolves an identity by (sso_provider, sso_external_id).
func (s *Store) GetBySSO(ctx context.Context, provider, externalID string) (Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE sso_provider = $1 AND sso_external_id = $2`
	row := s.pool.QueryRow(ctx, query, provider, externalID)
	id, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	return id, nil
}

// List returns identities visible to scope, paginated.
func (s *Store) List(ctx context.Context, scope tenant.Scope, limit, offset int) ([]Identity, error) {
	var rows pgx.Rows
	var err error
	if scope.System {
		rows, err = s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+identityColumns+` FROM identities WHERE tenant_id = $1 OR tenant_id IS NULL ORDER BY created_at DESC LIMIT $2 OFFSET $3`, scope.TenantID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	var items []Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning identity row: %w", err)
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

// Deactivate soft-deactivates an identity (I2: is_active true → false, no revival).
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE identities SET is_active = false, updated_at = now() WHERE id = $1 AND is_active = true`, id)
	if err != nil {
		return store.Translate(err, "identity not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "identity not found or already inactive")
	}
	return nil
}

// UpdateClaims replaces an identity's claims map.
func (s *Store) UpdateClaims(ctx context.Context, id uuid.UUID, claims map[string]any) (Identity, error) {
	query := `UPDATE identities SET claims = $2, updated_at = now() WHERE id = $1 RETURNING ` + identityColumns
	row := s.pool.QueryRow(ctx, query, id, claims)
	out, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	return out, nil
}

// UpdateRoleAndClaims replaces an identity's role and claims in one
// statement, used by the upsert-by-external_id path (spec.md §8 scenario
// 2: "the returned identity now has role:\"admin\" (update semantics)").
func (s *Store) UpdateRoleAndClaims(ctx context.Context, id uuid.UUID, role string, claims map[string]any) (Identity, error) {
	query := `UPDATE identities SET role = $2, claims = $3, updated_at = now() WHERE id = $1 RETURNING ` + identityColumns
	row := s.pool.QueryRow(ctx, query, id, role, claims)
	out, err := scanIdentity(row)
	if err != nil {
		return Identity{}, store.Translate(err, "identity not found")
	}
	return out, nil
}

func rowTenant(t *uuid.UUID) uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return *t
}
