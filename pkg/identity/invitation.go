package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/store"
)

// Invitation is the spec.md §3 Invitation entity. Pending, accepted, and
// expired are mutually exclusive states derived from is_accepted and
// expires_at rather than stored as a separate enum column.
type Invitation struct {
	ID         uuid.UUID
	Email      string
	Role       string
	Claims     map[string]any
	Token      string
	InvitedBy  *uuid.UUID
	IsAccepted bool
	AcceptedAt *time.Time
	ExpiresAt  time.Time
	TenantID   uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// State reports the invitation's current lifecycle state.
func (inv Invitation) State(now time.Time) string {
	switch {
	case inv.IsAccepted:
		return "accepted"
	case now.After(inv.ExpiresAt):
		return "expired"
	default:
		return "pending"
	}
}

const invitationColumns = `id, email, role, claims, token, invited_by, is_accepted, accepted_at, expires_at, tenant_id, created_at, updated_at`

// InvitationStore provides database operations for invitations.
type InvitationStore struct {
	pool store.DBTX
}

// NewInvitationStore creates an InvitationStore over a pool or an open transaction.
func NewInvitationStore(pool store.DBTX) *InvitationStore {
	return &InvitationStore{pool: pool}
}

func scanInvitation(row pgx.Row) (Invitation, error) {
	var inv Invitation
	if err := row.Scan(
		&inv.ID, &inv.Email, &inv.Role, &inv.Claims, &inv.Token, &inv.InvitedBy,
		&inv.IsAccepted, &inv.AcceptedAt, &inv.ExpiresAt, &inv.TenantID, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

// CreateInvitationParams holds parameters for creating an invitation.
type CreateInvitationParams struct {
	Email     string
	Role      string
	Claims    map[string]any
	InvitedBy *uuid.UUID
	ExpiresAt time.Time
	TenantID  uuid.UUID
}

// Create inserts a new invitation with a random opaque token.
func (s *InvitationStore) Create(ctx context.Context, p CreateInvitationParams) (Invitation, error) {
	token := generateInvitationToken()

	query := `INSERT INTO invitations (email, role, claims, token, invited_by, is_accepted, expires_at, tenant_id)
	VALUES ($1, $2, $3, $4, $5, false, $6, $7)
	RETURNING ` + invitationColumns

	row := s.pool.QueryRow(ctx, query, p.Email, p.Role, p.Claims, token, p.InvitedBy, p.ExpiresAt, p.TenantID)
	inv, err := scanInvitation(row)
	if err != nil {
		return Invitation{}, store.Translate(err, "invitation not found")
	}
	return inv, nil
}

// GetByToken resolves an invitation by its opaque token.
func (s *InvitationStore) GetByToken(ctx context.Context, token string) (Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1`
	row := s.pool.QueryRow(ctx, query, token)
	inv, err := scanInvitation(row)
	if err != nil {
		return Invitation{}, store.Translate(err, "invitation not found")
	}
	return inv, nil
}

// ListByTenant returns invitations for a tenant, newest first.
func (s *InvitationStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Invitation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing invitations: %w", err)
	}
	defer rows.Close()

	var items []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invitation row: %w", err)
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

// Accept marks an invitation accepted, failing if it is already accepted.
func (s *InvitationStore) Accept(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE invitations SET is_accepted = true, accepted_at = now(), updated_at = now() WHERE id = $1 AND is_accepted = false`, id)
	if err != nil {
		return store.Translate(err, "invitation not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "invitation not found or already accepted")
	}
	return nil
}

// Revoke deletes a pending invitation outright; invitations have no
// is_active flag to flip, so revocation removes the row.
func (s *InvitationStore) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM invitations WHERE id = $1 AND is_accepted = false`, id)
	if err != nil {
		return store.Translate(err, "invitation not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "invitation not found or already accepted")
	}
	return nil
}

func generateInvitationToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// InvitationService implements invitation issue/accept/revoke on top of the
// identity store, turning an accepted invitation into a new tenant-scoped
// Identity.
type InvitationService struct {
	invitations *InvitationStore
	identities  *Store
}

// NewInvitationService creates an Invitation Service.
func NewInvitationService(invitations *InvitationStore, identities *Store) *InvitationService {
	return &InvitationService{invitations: invitations, identities: identities}
}

// Accept validates and accepts an invitation by token, creating the
// resulting Identity scoped to the invitation's tenant.
func (s *InvitationService) Accept(ctx context.Context, token, externalID string) (Identity, error) {
	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if inv.State(time.Now()) != "pending" {
		return Identity{}, apierr.New(apierr.KindConflict, "invitation is not pending")
	}

	tenantID := inv.TenantID
	id, err := s.identities.Create(ctx, CreateParams{
		ExternalID: externalID,
		Role:       inv.Role,
		Claims:     inv.Claims,
		TenantID:   &tenantID,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("creating identity from invitation: %w", err)
	}

	if err := s.invitations.Accept(ctx, inv.ID); err != nil {
		return Identity{}, fmt.Errorf("accepting invitation: %w", err)
	}

	return id, nil
}
