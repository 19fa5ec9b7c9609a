package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// SSOProvider is the narrow oauth2 configuration for one SSO provider. This
// system supports exactly the OAuth2 authorization-code + userinfo-endpoint
// contract (golang.org/x/oauth2), not full OIDC discovery/ID-token
// verification — adapted from the original Python implementation's
// authlib-based SSOService (original_source/manushya/services/sso_service.py),
// which drives the same two operations: redirect-to-authorize and
// exchange-code-then-fetch-userinfo.
type SSOProvider struct {
	Name            string
	Config          oauth2.Config
	UserInfoURL     string
}

// SSOUserInfo is the subset of claims the callback needs, matching the
// "sub"/"email"/"name" fields the original service extracts.
type SSOUserInfo struct {
	Subject string         `json:"sub"`
	Email   string         `json:"email"`
	Name    string         `json:"name"`
	Raw     map[string]any `json:"-"`
}

// SSOService drives the OAuth2 login-redirect and callback exchange for the
// configured providers.
type SSOService struct {
	providers map[string]SSOProvider
	client    *http.Client
}

// NewSSOService creates an SSO service over the given providers.
func NewSSOService(providers map[string]SSOProvider) *SSOService {
	return &SSOService{providers: providers, client: &http.Client{Timeout: 10 * time.Second}}
}

// LoginURL returns the provider's authorization redirect URL and the opaque
// state value the caller must round-trip (stored server-side, e.g. in a
// short-lived signed cookie — left to the HTTP handler).
func (s *SSOService) LoginURL(provider string) (url, state string, err error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", "", fmt.Errorf("unknown SSO provider %q", provider)
	}
	state = generateState()
	return p.Config.AuthCodeURL(state, oauth2.AccessTypeOnline), state, nil
}

// Callback exchanges the authorization code for a token and fetches the
// provider's userinfo endpoint.
func (s *SSOService) Callback(ctx context.Context, provider, code string) (SSOUserInfo, error) {
	p, ok := s.providers[provider]
	if !ok {
		return SSOUserInfo{}, fmt.Errorf("unknown SSO provider %q", provider)
	}

	token, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return SSOUserInfo{}, fmt.Errorf("exchanging code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return SSOUserInfo{}, fmt.Errorf("building userinfo request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return SSOUserInfo{}, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SSOUserInfo{}, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SSOUserInfo{}, fmt.Errorf("reading userinfo body: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return SSOUserInfo{}, fmt.Errorf("decoding userinfo: %w", err)
	}

	info := SSOUserInfo{Raw: raw}
	if err := json.Unmarshal(body, &info); err != nil {
		return SSOUserInfo{}, fmt.Errorf("decoding userinfo claims: %w", err)
	}
	if info.Subject == "" {
		if id, ok := raw["id"].(string); ok {
			info.Subject = id
		}
	}
	if info.Subject == "" {
		return SSOUserInfo{}, fmt.Errorf("SSO response missing subject identifier")
	}
	return info, nil
}

func generateState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
