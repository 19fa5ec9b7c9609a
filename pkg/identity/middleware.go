package identity

import (
	"net/http"
	"strings"

	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/tenant"
)

// Authenticate builds the HTTP middleware installed on the authenticated
// /v1 router (internal/httpserver.Chain.Authenticate). It accepts either an
// X-API-Key header or an Authorization: Bearer <token> header, resolving
// through Resolver and storing both the Principal and its derived
// tenant.Scope on the request context, mirroring the teacher's
// auth.Middleware precedence but limited to the two credential forms
// spec.md §4.3 defines.
func Authenticate(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get("X-API-Key")
			if credential == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					credential = strings.TrimSpace(auth[len("Bearer "):])
				}
			}

			principal, err := resolver.Resolve(r.Context(), credential)
			if err != nil {
				httpserver.WriteError(w, r, err)
				return
			}

			ctx := NewContext(r.Context(), principal)
			ctx = tenant.NewContext(ctx, Scope(principal))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
