package webhook

import "time"

// Response is the wire representation of a Webhook. Secret is never
// returned once a webhook exists past creation.
type Response struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedBy string    `json:"created_by"`
	TenantID  *string   `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(w Webhook) Response {
	var tenantID *string
	if w.TenantID != nil {
		s := w.TenantID.String()
		tenantID = &s
	}
	return Response{
		ID:        w.ID.String(),
		Name:      w.Name,
		URL:       w.URL,
		Events:    w.Events,
		IsActive:  w.IsActive,
		CreatedBy: w.CreatedBy.String(),
		TenantID:  tenantID,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// CreateRequest is the payload for POST /webhooks.
type CreateRequest struct {
	Name   string   `json:"name" validate:"required,min=1,max=256"`
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1"`
}

// UpdateRequest is the payload for PUT /webhooks/{id}.
type UpdateRequest struct {
	Name     string   `json:"name" validate:"required,min=1,max=256"`
	URL      string   `json:"url" validate:"required,url"`
	Events   []string `json:"events" validate:"required,min=1"`
	IsActive bool     `json:"is_active"`
}

// CreateResponse includes the plaintext signing secret, returned exactly
// once (the same convention as api_key creation).
type CreateResponse struct {
	Response
	Secret string `json:"secret"`
}

// DeliveryResponse is the wire representation of a WebhookDelivery.
type DeliveryResponse struct {
	ID                  string     `json:"id"`
	WebhookID           string     `json:"webhook_id"`
	EventType           string     `json:"event_type"`
	Status              string     `json:"status"`
	ResponseCode        *int       `json:"response_code,omitempty"`
	ResponseBodySnippet *string    `json:"response_body_snippet,omitempty"`
	DeliveryAttempts    int        `json:"delivery_attempts"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toDeliveryResponse(d Delivery) DeliveryResponse {
	return DeliveryResponse{
		ID:                  d.ID.String(),
		WebhookID:           d.WebhookID.String(),
		EventType:           d.EventType,
		Status:              d.Status,
		ResponseCode:        d.ResponseCode,
		ResponseBodySnippet: d.ResponseBodySnippet,
		DeliveryAttempts:    d.DeliveryAttempts,
		NextRetryAt:         d.NextRetryAt,
		DeliveredAt:         d.DeliveredAt,
		CreatedAt:           d.CreatedAt,
	}
}
