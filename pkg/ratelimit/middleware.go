package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/pkg/identity"
)

// Middleware enforces Limiter.Check on every request, attaching
// X-RateLimit-* headers to every checked response and Retry-After on a 429
// (spec.md §4.6: "Rate-limit errors never prevent downstream responses
// from emitting these headers").
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := ClassForPath(r.URL.Path)
			clientKey, role, tenantID := keyForRequest(r)

			result, err := limiter.Check(r.Context(), clientKey, class, role, tenantID)
			if err != nil {
				// Both the fast path and the fallback failed; fail open rather
				// than block all traffic on a rate limiter outage.
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(result.ResetAt).Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limited","message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyForRequest(r *http.Request) (clientKey, role string, tenantID *uuid.UUID) {
	p := identity.FromContext(r.Context())
	if p != nil {
		role = p.Identity.Role
		return "identity:" + p.Identity.ID.String(), role, p.Identity.TenantID
	}
	return "ip:" + requestIP(r), "", nil
}

func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
