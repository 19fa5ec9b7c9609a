package ratelimit

import "testing"

func TestClassForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/identity/me", "identity"},
		{"/v1/memory/search", "memory"},
		{"/v1/policy/test", "policy"},
		{"/v1/api-keys", "api_keys"},
		{"/v1/invitations", "invitations"},
		{"/v1/sessions/refresh", "sessions"},
		{"/v1/events", "events"},
		{"/v1/webhooks/123/deliveries", "events"},
		{"/v1/healthz", "default"},
	}
	for _, tt := range tests {
		if got := ClassForPath(tt.path); got.Name != tt.want {
			t.Errorf("ClassForPath(%q).Name = %q, want %q", tt.path, got.Name, tt.want)
		}
	}
}

func TestRoleMultiplier(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{"admin", 2},
		{"system", 5},
		{"viewer", 1},
		{"", 1},
	}
	for _, tt := range tests {
		if got := roleMultiplier(tt.role); got != tt.want {
			t.Errorf("roleMultiplier(%q) = %d, want %d", tt.role, got, tt.want)
		}
	}
}
