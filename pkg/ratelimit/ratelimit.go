// Package ratelimit implements the Rate Limiter (C6): a per-endpoint-class
// fixed window, fast path via pkg/cache (Redis INCR+EXPIRE), falling back
// to a Postgres-backed counter when the cache is unavailable. Grounded on
// the teacher's wisbric-nightowl/internal/auth/ratelimit.go for the
// fixed-window shape, generalized from a single login-endpoint window into
// the endpoint-class table spec.md §4.6 requires.
package ratelimit

import (
	"strings"
	"time"
)

// Class is an endpoint-class bucket (spec.md §4.6: "derived by prefix from
// the request path").
type Class struct {
	Name          string
	WindowSeconds int
	BaseLimit     int
}

// classes is the endpoint-class table. Paths are matched against
// pathPrefixes, whose entries do not overlap; "default", the last entry, is
// the fallback for anything unmatched.
var classes = []Class{
	{Name: "identity", WindowSeconds: 60, BaseLimit: 100},
	{Name: "memory", WindowSeconds: 60, BaseLimit: 200},
	{Name: "policy", WindowSeconds: 60, BaseLimit: 60},
	{Name: "api_keys", WindowSeconds: 60, BaseLimit: 30},
	{Name: "invitations", WindowSeconds: 60, BaseLimit: 30},
	{Name: "sessions", WindowSeconds: 60, BaseLimit: 60},
	{Name: "events", WindowSeconds: 60, BaseLimit: 120},
	{Name: "default", WindowSeconds: 60, BaseLimit: 60},
}

var pathPrefixes = map[string]string{
	"/v1/identity":    "identity",
	"/v1/memory":      "memory",
	"/v1/policy":      "policy",
	"/v1/api-keys":    "api_keys",
	"/v1/invitations": "invitations",
	"/v1/sessions":    "sessions",
	"/v1/events":      "events",
	"/v1/webhooks":    "events",
}

// ClassForPath derives the endpoint class for a request path
// (spec.md §4.6: "e.g., identity, memory, policy, api_keys, invitations,
// sessions, events, else default").
func ClassForPath(path string) Class {
	for prefix, name := range pathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return classFor(name)
		}
	}
	return classFor("default")
}

func classFor(name string) Class {
	for _, c := range classes {
		if c.Name == name {
			return c
		}
	}
	return classes[len(classes)-1]
}

// roleMultiplier returns the per-role limit factor (spec.md §4.6:
// "admin×2, system×5, else ×1").
func roleMultiplier(role string) int {
	switch role {
	case "admin":
		return 2
	case "system":
		return 5
	default:
		return 1
	}
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
