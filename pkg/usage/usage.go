// Package usage implements the usage-metering half of C10: UsageEvent
// append plus a scheduled, idempotent fold into UsageDaily (spec.md §4.10,
// I5, P9). Grounded on the teacher's three-layer store/service/handler
// split (pkg/apikey) and on its audit package's request-context extraction
// helpers, generalized from per-action audit entries to per-event usage
// counters.
package usage

import (
	"time"

	"github.com/google/uuid"
)

// Event is the spec.md §3 UsageEvent entity.
type Event struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	APIKeyID   *uuid.UUID
	IdentityID *uuid.UUID
	EventName  string
	Units      int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Daily is the spec.md §3 UsageDaily entity, unique per (tenant_id, date, event).
type Daily struct {
	TenantID  uuid.UUID
	Date      time.Time
	EventName string
	Units     int
}

// Well-known event names that trigger a UsageEvent (spec.md §4.10: "create,
// search, api-key create, etc."). No code path records EventWebhookDeliver.
const (
	EventIdentityCreate = "identity.create"
	EventAPIKeyCreate   = "api_key.create"
	EventMemoryCreate   = "memory.create"
	EventMemorySearch   = "memory.search"
	EventWebhookDeliver = "webhook.deliver"
)
