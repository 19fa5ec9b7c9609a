// Package identity implements the Credential Resolver (C3) and Session
// Service (C4), plus the Identity/ApiKey/Invitation entities they operate
// on. It is grounded on the teacher's vendored auth package
// (wisbric-nightowl/vendor/github.com/wisbric/core/pkg/auth): the Identity
// struct, context helpers, and SHA-256 API-key hashing are adapted directly
// from auth.go, the HS256 JWT issuing/validation from session.go, and the
// three-layer store/service/handler split from pkg/apikey.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Roles recognised by the policy engine's `roles` condition (spec.md §4.5).
// Unlike the teacher's fixed four-role RBAC, spec.md §3 allows any role
// string on an Identity; these are only the distinguished ones the system
// itself assigns meaning to.
const (
	RoleSystem = "system"
	RoleAdmin  = "admin"
)

// Method describes how a request's credential was resolved.
type Method string

const (
	MethodAPIKey Method = "apikey"
	MethodToken  Method = "token"
)

// Identity is the spec.md §3 Identity entity: an agent or user known to the
// system, optionally scoped to a tenant.
type Identity struct {
	ID            uuid.UUID
	ExternalID    string
	Role          string
	Claims        map[string]any
	IsActive      bool
	TenantID      *uuid.UUID
	SSOProvider   *string
	SSOExternalID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsSystem reports whether this identity is the distinguished cross-tenant
// system identity (spec.md §3: "tenant_id = null").
func (i Identity) IsSystem() bool { return i.TenantID == nil }

// Principal is the resolved, authenticated caller attached to every request
// context by the Credential Resolver (C3). It carries both the Identity and
// how it was authenticated, mirroring the teacher's auth.Identity shape.
type Principal struct {
	Identity Identity
	Method   Method
	APIKeyID *uuid.UUID
}

// HashCredential returns the SHA-256 hex digest of a raw API key, matching
// the teacher's auth.HashAPIKey.
func HashCredential(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

type ctxKey string

const principalKey ctxKey = "identity_principal"

// NewContext stores the resolved principal in the request context.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal. Returns nil on unauthenticated
// contexts (background jobs use tenant.SystemScope directly instead).
func FromContext(ctx context.Context) *Principal {
	v, _ := ctx.Value(principalKey).(*Principal)
	return v
}
