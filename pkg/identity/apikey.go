package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/store"
)

// APIKeyPrefix identifies keys minted by this system, mirroring the
// teacher's "ow_" convention (pkg/apikey/service.go) but distinct so a
// credential resolver can tell a raw key from a JWT without parsing both.
const APIKeyPrefix = "mk_"

// ApiKey is the spec.md §3 ApiKey entity.
type ApiKey struct {
	ID          uuid.UUID
	Name        string
	KeyHash     string
	IdentityID  uuid.UUID
	Scopes      []string
	IsActive    bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Valid reports spec.md §3's validity rule: is_active AND (no expiry OR not yet expired).
func (k ApiKey) Valid(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

const apiKeyColumns = `id, name, key_hash, identity_id, scopes, is_active, expires_at, last_used_at, created_at, updated_at`

// APIKeyStore provides database operations for API keys.
type APIKeyStore struct {
	pool store.DBTX
}

// NewAPIKeyStore creates an APIKeyStore over a pool or an open transaction.
func NewAPIKeyStore(pool store.DBTX) *APIKeyStore {
	return &APIKeyStore{pool: pool}
}

func scanAPIKey(row pgx.Row) (ApiKey, error) {
	var k ApiKey
	if err := row.Scan(
		&k.ID, &k.Name, &k.KeyHash, &k.IdentityID, &k.Scopes, &k.IsActive,
		&k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt,
	); err != nil {
		return ApiKey{}, err
	}
	return k, nil
}

// CreateAPIKeyParams holds parameters for creating an API key.
type CreateAPIKeyParams struct {
	Name       string
	KeyHash    string
	IdentityID uuid.UUID
	Scopes     []string
	ExpiresAt  *time.Time
}

// Create inserts a new API key row.
func (s *APIKeyStore) Create(ctx context.Context, p CreateAPIKeyParams) (ApiKey, error) {
	query := `INSERT INTO api_keys (name, key_hash, identity_id, scopes, is_active, expires_at)
	VALUES ($1, $2, $3, $4, true, $5)
	RETURNING ` + apiKeyColumns

	row := s.pool.QueryRow(ctx, query, p.Name, p.KeyHash, p.IdentityID, p.Scopes, p.ExpiresAt)
	key, err := scanAPIKey(row)
	if err != nil {
		return ApiKey{}, store.Translate(err, "api key not found")
	}
	return key, nil
}

// GetByHash resolves an API key by its hash, the credential resolver's fast path.
func (s *APIKeyStore) GetByHash(ctx context.Context, hash string) (ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	row := s.pool.QueryRow(ctx, query, hash)
	key, err := scanAPIKey(row)
	if err != nil {
		return ApiKey{}, store.Translate(err, "api key not found")
	}
	return key, nil
}

// ListByIdentity returns all API keys owned by an identity.
func (s *APIKeyStore) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]ApiKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE identity_id = $1 ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var items []ApiKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		items = append(items, k)
	}
	return items, rows.Err()
}

// TouchLastUsed updates last_used_at best-effort (spec.md §4.3 step 1).
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// Revoke sets is_active = false (I2: no revival).
func (s *APIKeyStore) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET is_active = false, updated_at = now() WHERE id = $1 AND is_active = true`, id)
	if err != nil {
		return store.Translate(err, "api key not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "api key not found or already revoked")
	}
	return nil
}

// GenerateAPIKey creates a random API key with the APIKeyPrefix, its SHA-256
// hash, matching the teacher's pkg/apikey/service.go generateAPIKey.
func GenerateAPIKey() (raw, hash string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("%s%x", APIKeyPrefix, b)
	hash = HashCredential(raw)
	return
}
