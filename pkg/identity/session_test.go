package identity

import (
	"strings"
	"testing"
	"time"
)

func TestTokenIssuerMintAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer(strings.Repeat("a", 32), "nimbusid")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	claims := AccessClaims{Subject: "agent-007", Role: "user", Claims: map[string]any{"team": "x"}}
	token, expiry, err := issuer.Mint(claims, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if time.Until(expiry) > time.Minute || time.Until(expiry) <= 0 {
		t.Errorf("expiry = %v, want within 1m from now", expiry)
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Subject != claims.Subject || got.Role != claims.Role {
		t.Errorf("Verify() = %+v, want subject/role matching %+v", got, claims)
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer, err := NewTokenIssuer(strings.Repeat("b", 32), "nimbusid")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, _, err := issuer.Mint(AccessClaims{Subject: "s"}, -time.Second)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Error("Verify() on an expired token should fail")
	}
}

func TestTokenIssuerRejectsWrongKey(t *testing.T) {
	a, _ := NewTokenIssuer(strings.Repeat("c", 32), "nimbusid")
	b, _ := NewTokenIssuer(strings.Repeat("d", 32), "nimbusid")

	token, _, err := a.Mint(AccessClaims{Subject: "s"}, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Error("Verify() with the wrong signing key should fail")
	}
}

func TestNewTokenIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenIssuer("too-short", "nimbusid"); err == nil {
		t.Error("expected error for a secret under 32 bytes")
	}
}

func TestGenerateRefreshTokenIsUnpredictable(t *testing.T) {
	raw1, hash1 := GenerateRefreshToken()
	raw2, hash2 := GenerateRefreshToken()

	if raw1 == raw2 || hash1 == hash2 {
		t.Error("two refresh tokens must not collide")
	}
	if HashCredential(raw1) != hash1 {
		t.Error("hash must match HashCredential(raw)")
	}
}

func TestGenerateAPIKeyHasPrefix(t *testing.T) {
	raw, hash := GenerateAPIKey()
	if !strings.HasPrefix(raw, APIKeyPrefix) {
		t.Errorf("GenerateAPIKey() raw = %q, want prefix %q", raw, APIKeyPrefix)
	}
	if HashCredential(raw) != hash {
		t.Error("hash must match HashCredential(raw)")
	}
}

func TestApiKeyValid(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		key  ApiKey
		want bool
	}{
		{"active no expiry", ApiKey{IsActive: true}, true},
		{"active not yet expired", ApiKey{IsActive: true, ExpiresAt: &future}, true},
		{"active but expired", ApiKey{IsActive: true, ExpiresAt: &past}, false},
		{"inactive", ApiKey{IsActive: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Valid(now); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInvitationState(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		inv  Invitation
		want string
	}{
		{"pending", Invitation{ExpiresAt: now.Add(time.Hour)}, "pending"},
		{"expired", Invitation{ExpiresAt: now.Add(-time.Hour)}, "expired"},
		{"accepted even if expired", Invitation{IsAccepted: true, ExpiresAt: now.Add(-time.Hour)}, "accepted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inv.State(now); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}
