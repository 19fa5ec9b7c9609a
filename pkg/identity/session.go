package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/internal/store"
)

// Session is the spec.md §3 Session entity.
type Session struct {
	ID               uuid.UUID
	IdentityID       uuid.UUID
	RefreshTokenHash string
	DeviceInfo       string
	IP               string
	UserAgent        string
	IsActive         bool
	ExpiresAt        time.Time
	LastUsedAt       time.Time
	CreatedAt        time.Time
}

// AccessClaims are the claims carried by the short-lived access token,
// adapted from the teacher's SessionClaims (session.go) to spec.md §4.4's
// required shape: {sub, role, claims, tenant_id}.
type AccessClaims struct {
	Subject  string         `json:"sub"`
	Role     string         `json:"role"`
	Claims   map[string]any `json:"claims"`
	TenantID string         `json:"tenant_id,omitempty"`
}

// TokenIssuer mints and verifies HS256 access tokens. Grounded directly on
// the teacher's auth.SessionManager (session.go): same go-jose/go-jose/v4
// signer construction, same HS256-only verification, generalized from a
// cookie-bound session JWT to a bearer access token.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
}

// NewTokenIssuer creates a token issuer. The secret must be at least 32 bytes.
func NewTokenIssuer(secret, issuer string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	return &TokenIssuer{signingKey: []byte(secret), issuer: issuer}, nil
}

// Mint issues a signed access token with the given TTL.
func (t *TokenIssuer) Mint(claims AccessClaims, ttl time.Duration) (string, time.Time, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: t.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	expiry := now.Add(ttl)
	registered := jwt.Claims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiry),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    t.issuer,
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiry, nil
}

// Verify checks signature, issuer, and expiry, returning the embedded claims.
// Any failure is a caller-visible Unauthenticated per spec.md §4.3 step 3.
func (t *TokenIssuer) Verify(raw string) (*AccessClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthenticated, "invalid token", err)
	}

	var registered jwt.Claims
	var custom AccessClaims
	if err := tok.Claims(t.signingKey, &registered, &custom); err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthenticated, "invalid token", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: t.issuer,
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, apierr.Wrap(apierr.KindUnauthenticated, "expired or invalid token", err)
	}

	return &custom, nil
}

// GenerateRefreshToken returns a raw refresh token with >=256 bits of
// entropy and its SHA-256 hash (spec.md §4.4: "opaque refresh token").
func GenerateRefreshToken() (raw, hash string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = hex.EncodeToString(b)
	hash = HashCredential(raw)
	return
}

const sessionColumns = `id, identity_id, refresh_token_hash, device_info, ip, user_agent, is_active, expires_at, last_used_at, created_at`

// SessionStore provides database operations for sessions.
type SessionStore struct {
	pool store.DBTX
}

// NewSessionStore creates a SessionStore over a pool or an open transaction.
func NewSessionStore(pool store.DBTX) *SessionStore {
	return &SessionStore{pool: pool}
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	if err := row.Scan(
		&s.ID, &s.IdentityID, &s.RefreshTokenHash, &s.DeviceInfo, &s.IP, &s.UserAgent,
		&s.IsActive, &s.ExpiresAt, &s.LastUsedAt, &s.CreatedAt,
	); err != nil {
		return Session{}, err
	}
	return s, nil
}

// CreateSessionParams holds parameters for issuing a session.
type CreateSessionParams struct {
	IdentityID       uuid.UUID
	RefreshTokenHash string
	DeviceInfo       string
	IP               string
	UserAgent        string
	ExpiresAt        time.Time
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, p CreateSessionParams) (Session, error) {
	query := `INSERT INTO sessions (identity_id, refresh_token_hash, device_info, ip, user_agent, is_active, expires_at, last_used_at)
	VALUES ($1, $2, $3, $4, $5, true, $6, now())
	RETURNING ` + sessionColumns

	row := s.pool.QueryRow(ctx, query, p.IdentityID, p.RefreshTokenHash, p.DeviceInfo, p.IP, p.UserAgent, p.ExpiresAt)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, store.Translate(err, "session not found")
	}
	return sess, nil
}

// GetByRefreshHash resolves a session by its refresh token hash.
func (s *SessionStore) GetByRefreshHash(ctx context.Context, hash string) (Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	row := s.pool.QueryRow(ctx, query, hash)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, store.Translate(err, "session not found")
	}
	return sess, nil
}

// TouchLastUsed updates last_used_at on a successful refresh.
func (s *SessionStore) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// Revoke sets is_active = false for one session.
func (s *SessionStore) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET is_active = false WHERE id = $1 AND is_active = true`, id)
	if err != nil {
		return store.Translate(err, "session not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "session not found or already revoked")
	}
	return nil
}

// RevokeAllByIdentity deactivates every active session for an identity,
// optionally excluding one (spec.md §4.4: "RevokeAll(identity, except?)").
// Idempotent by construction: re-running it against already-inactive rows
// affects zero rows and returns no error.
func (s *SessionStore) RevokeAllByIdentity(ctx context.Context, identityID uuid.UUID, except *uuid.UUID) error {
	if except != nil {
		_, err := s.pool.Exec(ctx, `UPDATE sessions SET is_active = false WHERE identity_id = $1 AND is_active = true AND id != $2`, identityID, *except)
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET is_active = false WHERE identity_id = $1 AND is_active = true`, identityID)
	return err
}

// ListByIdentity returns every session (active or not) owned by an identity.
func (s *SessionStore) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE identity_id = $1 ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var items []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		items = append(items, sess)
	}
	return items, rows.Err()
}

// CleanupExpired deactivates sessions whose expires_at has passed
// (spec.md §4.4 Cleanup, driven by the background worker C11).
func (s *SessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET is_active = false WHERE is_active = true AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
