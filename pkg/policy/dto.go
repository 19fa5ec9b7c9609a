package policy

import "time"

// Response is the wire representation of a Policy.
type Response struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Rule        Rule      `json:"rule"`
	Description *string   `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	IsActive    bool      `json:"is_active"`
	TenantID    *string   `json:"tenant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toResponse(p Policy) Response {
	var tenantID *string
	if p.TenantID != nil {
		s := p.TenantID.String()
		tenantID = &s
	}
	return Response{
		ID:          p.ID.String(),
		Role:        p.Role,
		Rule:        p.Rule,
		Description: p.Description,
		Priority:    p.Priority,
		IsActive:    p.IsActive,
		TenantID:    tenantID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// CreateRequest is the payload for POST /policy.
type CreateRequest struct {
	Role        string  `json:"role" validate:"required,min=1,max=64"`
	Rule        Rule    `json:"rule" validate:"required"`
	Description *string `json:"description,omitempty"`
	Priority    int     `json:"priority"`
}

// UpdateRequest is the payload for PUT /policy/{id}.
type UpdateRequest struct {
	Rule        Rule    `json:"rule" validate:"required"`
	Description *string `json:"description,omitempty"`
	Priority    int     `json:"priority"`
	IsActive    bool    `json:"is_active"`
}

// TestRequest is the payload for POST /policy/test: a dry-run evaluation
// against the caller-supplied principal facts, without needing a real
// session (spec.md §4 supplemented feature).
type TestRequest struct {
	Role     string         `json:"role" validate:"required"`
	Claims   map[string]any `json:"claims,omitempty"`
	Action   string         `json:"action" validate:"required"`
	Resource string         `json:"resource" validate:"required"`
	ClientIP string         `json:"client_ip,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// TestResponse reports the outcome of a dry-run evaluation.
type TestResponse struct {
	Allowed  bool    `json:"allowed"`
	PolicyID *string `json:"policy_id,omitempty"`
}

// BulkDeleteRequest is the payload for POST /policy/bulk-delete.
type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}
