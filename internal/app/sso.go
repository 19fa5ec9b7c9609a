package app

import (
	"golang.org/x/oauth2"

	"github.com/nimbusid/core/internal/config"
	"github.com/nimbusid/core/pkg/identity"
)

// ssoProviders builds the SSO provider map from configuration. nimbusid
// configures exactly one OAuth2 provider per deployment (spec.md §6
// "environment configuration" lists a single SSO endpoint set); a
// multi-provider deployment would key this map by an additional env-driven
// provider name.
func ssoProviders(cfg *config.Config) map[string]identity.SSOProvider {
	if cfg.SSOClientID == "" {
		return map[string]identity.SSOProvider{}
	}
	return map[string]identity.SSOProvider{
		"default": {
			Name:        "default",
			UserInfoURL: cfg.SSOUserInfoURL,
			Config: oauth2.Config{
				ClientID:     cfg.SSOClientID,
				ClientSecret: cfg.SSOClientSecret,
				RedirectURL:  cfg.SSORedirectURL,
				Endpoint: oauth2.Endpoint{
					AuthURL:  cfg.SSOAuthURL,
					TokenURL: cfg.SSOTokenURL,
				},
				Scopes: []string{"openid", "email", "profile"},
			},
		},
	}
}
