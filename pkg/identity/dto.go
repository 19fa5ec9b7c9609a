package identity

import (
	"time"

	"github.com/google/uuid"
)

// IdentityResponse is the wire representation of an Identity.
type IdentityResponse struct {
	ID         uuid.UUID      `json:"id"`
	ExternalID string         `json:"external_id"`
	Role       string         `json:"role"`
	Claims     map[string]any `json:"claims"`
	IsActive   bool           `json:"is_active"`
	TenantID   *uuid.UUID     `json:"tenant_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func toIdentityResponse(id Identity) IdentityResponse {
	return IdentityResponse{
		ID: id.ID, ExternalID: id.ExternalID, Role: id.Role, Claims: id.Claims,
		IsActive: id.IsActive, TenantID: id.TenantID, CreatedAt: id.CreatedAt, UpdatedAt: id.UpdatedAt,
	}
}

// CreateIdentityRequest is the payload for creating an identity directly
// (as opposed to via invitation or SSO callback).
type CreateIdentityRequest struct {
	ExternalID string         `json:"external_id" validate:"required,min=1,max=256"`
	Role       string         `json:"role" validate:"required,min=1,max=64"`
	Claims     map[string]any `json:"claims"`
	TenantID   *uuid.UUID     `json:"tenant_id"`
}

// UpdateClaimsRequest replaces an identity's claims.
type UpdateClaimsRequest struct {
	Claims map[string]any `json:"claims" validate:"required"`
}

// ApiKeyResponse is the wire representation of an API key (never includes
// the raw key or its hash).
type ApiKeyResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	IdentityID uuid.UUID  `json:"identity_id"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toAPIKeyResponse(k ApiKey) ApiKeyResponse {
	return ApiKeyResponse{
		ID: k.ID, Name: k.Name, IdentityID: k.IdentityID, Scopes: k.Scopes,
		IsActive: k.IsActive, ExpiresAt: k.ExpiresAt, LastUsedAt: k.LastUsedAt, CreatedAt: k.CreatedAt,
	}
}

// CreateAPIKeyRequest is the payload for minting an API key.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" validate:"required,min=1,max=256"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateAPIKeyResponse includes the raw key exactly once, per spec.md §3.
type CreateAPIKeyResponse struct {
	ApiKeyResponse
	Key string `json:"key"`
}

// IssueSessionRequest captures the request metadata used as the device
// fingerprint (spec.md §4.4).
type IssueSessionRequest struct {
	DeviceInfo string `json:"device_info"`
}

// IssueSessionResponse is the wire shape of IssuedSession.
type IssueSessionResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
}

// RefreshSessionRequest is the payload for POST /sessions/refresh.
type RefreshSessionRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshSessionResponse is the wire shape of RefreshedSession.
type RefreshSessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// InvitationResponse is the wire representation of an Invitation. The token
// is only included at creation time.
type InvitationResponse struct {
	ID         uuid.UUID      `json:"id"`
	Email      string         `json:"email"`
	Role       string         `json:"role"`
	Claims     map[string]any `json:"claims"`
	State      string         `json:"state"`
	ExpiresAt  time.Time      `json:"expires_at"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toInvitationResponse(inv Invitation) InvitationResponse {
	return InvitationResponse{
		ID: inv.ID, Email: inv.Email, Role: inv.Role, Claims: inv.Claims,
		State: inv.State(time.Now()), ExpiresAt: inv.ExpiresAt, TenantID: inv.TenantID, CreatedAt: inv.CreatedAt,
	}
}

// CreateInvitationRequest is the payload for inviting a new identity.
type CreateInvitationRequest struct {
	Email      string         `json:"email" validate:"required,email"`
	Role       string         `json:"role" validate:"required,min=1,max=64"`
	Claims     map[string]any `json:"claims"`
	TTLHours   int            `json:"ttl_hours" validate:"required,min=1,max=8760"`
}

// AcceptInvitationRequest is the payload for accepting an invitation.
type AcceptInvitationRequest struct {
	Token      string `json:"token" validate:"required"`
	ExternalID string `json:"external_id" validate:"required"`
}
