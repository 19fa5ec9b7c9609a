package policy

import (
	"net/http"
	"strings"

	"github.com/nimbusid/core/internal/httpserver"
	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/tenant"
)

// skipPrefixes are credential-lifecycle and self-test endpoints that must
// be reachable without an explicit allow policy: they are how a tenant
// bootstraps itself before any policy exists.
var skipPrefixes = []string{
	"/v1/sso/",
	"/v1/sessions/refresh",
	"/v1/api-keys/test",
	"/v1/policy/test",
}

var resourceByPrefix = []struct {
	prefix   string
	resource string
}{
	{"/v1/memory", "memory"},
	{"/v1/policy", "policy"},
	{"/v1/webhooks", "webhook"},
	{"/v1/api-keys", "api_key"},
	{"/v1/invitations", "invitation"},
	{"/v1/sessions", "session"},
	{"/v1/identity", "identity"},
}

// Middleware enforces engine.Authorize on every mutating request, deriving
// action from the HTTP method and resource from the request path the same
// way pkg/ratelimit derives its endpoint class. GET/HEAD requests are left
// to tenant scoping alone; default-deny only needs to hold for writes.
func Middleware(engine *Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, resource, ok := actionAndResource(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			principal := identity.FromContext(r.Context())
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}
			scope := tenant.FromContext(r.Context())

			evalCtx := EvalContext{ClientIP: requestIP(r)}
			if err := engine.Authorize(r.Context(), scope, principal.Identity, action, resource, evalCtx); err != nil {
				httpserver.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actionAndResource(r *http.Request) (action, resource string, ok bool) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return "", "", false
	}

	path := r.URL.Path
	for _, skip := range skipPrefixes {
		if strings.HasPrefix(path, skip) {
			return "", "", false
		}
	}

	for _, rp := range resourceByPrefix {
		if strings.HasPrefix(path, rp.prefix) {
			resource = rp.resource
			break
		}
	}
	if resource == "" {
		return "", "", false
	}

	switch {
	case r.Method == http.MethodDelete, strings.HasSuffix(path, "/bulk-delete"):
		action = "delete"
	case strings.HasSuffix(path, "/search"):
		action = "search"
	default:
		action = "write"
	}
	return action, resource, true
}
