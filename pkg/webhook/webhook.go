// Package webhook implements the Webhook Pipeline (C9): subscription
// resolution, signed outbound delivery with exponential-backoff retries, and
// a periodic sweep for both retries and terminal-row cleanup. Structurally
// grounded on pkg/escalation/engine.go's ticker-driven Run/tick loop; the
// HMAC signing itself is hand-written (crypto/hmac + crypto/sha256) since no
// repo in the example pack computes an outbound webhook signature — the
// closest precedent, pkg/slack/verify.go, only verifies an inbound one.
package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Status values for a WebhookDelivery (spec.md §3).
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// MaxAttempts is the terminal attempt count before a delivery is marked
// failed (spec.md §4.9).
const MaxAttempts = 5

// RetryDelays are the backoff intervals applied after attempts 1..5
// (spec.md §4.9: "60s, 300s, 900s, 3600s, 7200s").
var RetryDelays = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// nextRetryDelay returns the backoff to apply after attemptsSoFar failed
// attempts. Callers must check attemptsSoFar < MaxAttempts first.
func nextRetryDelay(attemptsSoFar int) time.Duration {
	if attemptsSoFar < 1 {
		attemptsSoFar = 1
	}
	idx := attemptsSoFar - 1
	if idx >= len(RetryDelays) {
		idx = len(RetryDelays) - 1
	}
	return RetryDelays[idx]
}

// Webhook is the spec.md §3 Webhook entity: a tenant's (or system's)
// subscription to a set of event types.
type Webhook struct {
	ID        uuid.UUID
	Name      string
	URL       string
	Events    []string
	Secret    string
	IsActive  bool
	CreatedBy uuid.UUID
	TenantID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// matches reports whether this webhook subscribes to eventType, honoring
// the "*" wildcard (spec.md §4.9 subscription resolution).
func (w Webhook) matches(eventType string) bool {
	for _, e := range w.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// Delivery is the spec.md §3 WebhookDelivery entity.
type Delivery struct {
	ID                  uuid.UUID
	WebhookID           uuid.UUID
	EventType           string
	Payload             []byte
	Status              string
	ResponseCode        *int
	ResponseBodySnippet *string
	DeliveryAttempts    int
	NextRetryAt         *time.Time
	DeliveredAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// terminal reports whether a delivery has reached a state the sweep should
// no longer touch.
func (d Delivery) terminal() bool {
	return d.Status == StatusDelivered || d.Status == StatusFailed
}
