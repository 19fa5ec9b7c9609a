// Package tenant resolves and carries the caller's scope (spec.md
// GLOSSARY: "either a tenant id or the distinguished system value").
//
// Unlike the teacher's schema-per-tenant model (SET search_path TO
// tenant_<slug>), spec.md §3 fixes a single shared relational store with a
// tenant_id column on every row, filtered per query (I1). Scope here is
// therefore a value carried on the request context and threaded into every
// internal/store call, not a connection-level search_path switch.
package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Scope is either a specific tenant or the distinguished system scope.
// The system Scope (System=true) must never be constructed directly by request
// handlers — it is only produced by the credential resolver for identities
// whose tenant_id is null (spec.md §4.3).
type Scope struct {
	TenantID uuid.UUID
	System   bool
}

// TenantScope returns a scope bound to a specific tenant.
func TenantScope(id uuid.UUID) Scope { return Scope{TenantID: id} }

// SystemScope returns the distinguished cross-tenant scope.
func SystemScope() Scope { return Scope{System: true} }

// Allows reports whether this scope may see a row owned by rowTenant.
// rowTenant == uuid.Nil means a system-global row (visible to everyone).
func (s Scope) Allows(rowTenant uuid.UUID) bool {
	if s.System || rowTenant == uuid.Nil {
		return true
	}
	return s.TenantID == rowTenant
}

// CanWriteAs reports whether this scope may write a row owned by rowTenant.
// System principals may only write rows with a null tenant (spec.md §4.3:
// "system-scoped ... writes disallowed unless the target row has null tenant").
func (s Scope) CanWriteAs(rowTenant uuid.UUID) bool {
	if s.System {
		return rowTenant == uuid.Nil
	}
	return s.TenantID == rowTenant
}

type ctxKey string

const scopeKey ctxKey = "tenant_scope"

// NewContext stores the scope in the context.
func NewContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext extracts the scope from the context. Returns the system
// scope if none was set — callers on unauthenticated paths must not rely on
// this default; it exists only so background jobs (which always run as
// system) don't need to thread a scope explicitly.
func FromContext(ctx context.Context) Scope {
	v, ok := ctx.Value(scopeKey).(Scope)
	if !ok {
		return SystemScope()
	}
	return v
}
