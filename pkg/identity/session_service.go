package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/apierr"
)

// DeviceMetadata is the coarse device fingerprint captured at session issue
// time (spec.md §4.4: "platform/browser/ip/user-agent").
type DeviceMetadata struct {
	DeviceInfo string
	IP         string
	UserAgent  string
}

// IssuedSession is the result of issuing a new session.
type IssuedSession struct {
	SessionID    uuid.UUID
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds until access token expiry
}

// RefreshedSession is the result of refreshing a session.
type RefreshedSession struct {
	AccessToken  string
	RefreshToken string // unchanged; spec.md §4.4 does not rotate
	ExpiresIn    int64
}

// SessionService implements C4: issue, refresh, revoke, cleanup.
type SessionService struct {
	sessions   *SessionStore
	identities *Store
	issuer     *TokenIssuer
	logger     *slog.Logger
	accessTTL  time.Duration
}

// NewSessionService creates a Session Service.
func NewSessionService(sessions *SessionStore, identities *Store, issuer *TokenIssuer, accessTTL time.Duration, logger *slog.Logger) *SessionService {
	return &SessionService{sessions: sessions, identities: identities, issuer: issuer, accessTTL: accessTTL, logger: logger}
}

// Issue mints a new session for identity: an access token carrying
// {sub, role, claims, tenant_id} and an opaque refresh token (spec.md §4.4).
func (s *SessionService) Issue(ctx context.Context, id Identity, meta DeviceMetadata, refreshTTL time.Duration) (IssuedSession, error) {
	rawRefresh, refreshHash := GenerateRefreshToken()

	sess, err := s.sessions.Create(ctx, CreateSessionParams{
		IdentityID:       id.ID,
		RefreshTokenHash: refreshHash,
		DeviceInfo:       meta.DeviceInfo,
		IP:               meta.IP,
		UserAgent:        meta.UserAgent,
		ExpiresAt:        time.Now().Add(refreshTTL),
	})
	if err != nil {
		return IssuedSession{}, fmt.Errorf("creating session: %w", err)
	}

	access, expiry, err := s.issuer.Mint(claimsFor(id), s.accessTTL)
	if err != nil {
		return IssuedSession{}, fmt.Errorf("minting access token: %w", err)
	}

	return IssuedSession{
		SessionID:    sess.ID,
		AccessToken:  access,
		RefreshToken: rawRefresh,
		ExpiresIn:    int64(time.Until(expiry).Seconds()),
	}, nil
}

// Refresh validates the raw refresh token and mints a new access token
// without rotating the refresh token, per spec.md §4.4's explicit
// no-rotation decision (see SPEC_FULL.md §5 open question).
func (s *SessionService) Refresh(ctx context.Context, rawRefreshToken string) (RefreshedSession, error) {
	hash := HashCredential(rawRefreshToken)

	sess, err := s.sessions.GetByRefreshHash(ctx, hash)
	if err != nil {
		return RefreshedSession{}, apierr.Unauthenticated()
	}
	if !sess.IsActive || time.Now().After(sess.ExpiresAt) {
		return RefreshedSession{}, apierr.Unauthenticated()
	}

	id, err := s.identities.GetByID(ctx, sess.IdentityID)
	if err != nil || !id.IsActive {
		return RefreshedSession{}, apierr.Unauthenticated()
	}

	if err := s.sessions.TouchLastUsed(ctx, sess.ID); err != nil {
		s.logger.Warn("touching session last_used_at", "error", err, "session_id", sess.ID)
	}

	access, expiry, err := s.issuer.Mint(claimsFor(id), s.accessTTL)
	if err != nil {
		return RefreshedSession{}, fmt.Errorf("minting access token: %w", err)
	}

	return RefreshedSession{
		AccessToken:  access,
		RefreshToken: rawRefreshToken,
		ExpiresIn:    int64(time.Until(expiry).Seconds()),
	}, nil
}

// Revoke deactivates a single session. Revoking an already inactive
// session is a NotFound, matched by the HTTP layer to 404.
func (s *SessionService) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeAll deactivates every active session for an identity, optionally
// preserving one (e.g. the session making the request).
func (s *SessionService) RevokeAll(ctx context.Context, identityID uuid.UUID, except *uuid.UUID) error {
	return s.sessions.RevokeAllByIdentity(ctx, identityID, except)
}

// Cleanup deactivates expired sessions; called periodically by C11.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	return s.sessions.CleanupExpired(ctx)
}

func claimsFor(id Identity) AccessClaims {
	claims := AccessClaims{
		Subject: id.ExternalID,
		Role:    id.Role,
		Claims:  id.Claims,
	}
	if id.TenantID != nil {
		claims.TenantID = id.TenantID.String()
	}
	return claims
}
