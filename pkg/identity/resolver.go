package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nimbusid/core/internal/apierr"
	"github.com/nimbusid/core/pkg/tenant"
)

// Resolver implements C3: resolve a bearer credential string to a
// Principal. Grounded on the teacher's auth.Middleware precedence chain
// (vendor/.../pkg/auth/middleware.go), narrowed to exactly the two methods
// spec.md §4.3 names — API key prefix match, else signed token — and
// collapsing every failure to Unauthenticated (never leaking which step
// failed, per spec.md §4.3: "internal diagnostics must not leak").
type Resolver struct {
	identities *Store
	apiKeys    *APIKeyStore
	issuer     *TokenIssuer
	logger     *slog.Logger
}

// NewResolver creates a Credential Resolver.
func NewResolver(identities *Store, apiKeys *APIKeyStore, issuer *TokenIssuer, logger *slog.Logger) *Resolver {
	return &Resolver{identities: identities, apiKeys: apiKeys, issuer: issuer, logger: logger}
}

// Resolve implements the spec.md §4.3 algorithm. The resolver never
// consults rate limits or policies; composition is the caller's
// responsibility (installed as HTTP middleware by internal/app).
func (r *Resolver) Resolve(ctx context.Context, credential string) (*Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apierr.Unauthenticated()
	}

	if strings.HasPrefix(credential, APIKeyPrefix) {
		return r.resolveAPIKey(ctx, credential)
	}
	return r.resolveToken(ctx, credential)
}

func (r *Resolver) resolveAPIKey(ctx context.Context, raw string) (*Principal, error) {
	hash := HashCredential(raw)

	key, err := r.apiKeys.GetByHash(ctx, hash)
	if err != nil {
		r.logger.Debug("api key lookup failed", "error", err)
		return nil, apierr.Unauthenticated()
	}
	if !key.Valid(time.Now()) {
		return nil, apierr.Unauthenticated()
	}

	id, err := r.identities.GetByID(ctx, key.IdentityID)
	if err != nil || !id.IsActive {
		return nil, apierr.Unauthenticated()
	}

	// Best-effort: a failure here must not fail authentication.
	if err := r.apiKeys.TouchLastUsed(ctx, key.ID); err != nil {
		r.logger.Warn("touching api key last_used_at", "error", err, "api_key_id", key.ID)
	}

	keyID := key.ID
	return &Principal{Identity: id, Method: MethodAPIKey, APIKeyID: &keyID}, nil
}

func (r *Resolver) resolveToken(ctx context.Context, raw string) (*Principal, error) {
	claims, err := r.issuer.Verify(raw)
	if err != nil {
		r.logger.Debug("token verification failed", "error", err)
		return nil, apierr.Unauthenticated()
	}

	id, err := r.identities.GetByExternalID(ctx, claims.Subject)
	if err != nil || !id.IsActive {
		return nil, apierr.Unauthenticated()
	}

	return &Principal{Identity: id, Method: MethodToken}, nil
}

// Scope derives the tenant scope implied by a resolved principal, per
// spec.md §4.3: null tenant_id → system-scoped.
func Scope(p *Principal) tenant.Scope {
	if p.Identity.TenantID == nil {
		return tenant.SystemScope()
	}
	return tenant.TenantScope(*p.Identity.TenantID)
}
