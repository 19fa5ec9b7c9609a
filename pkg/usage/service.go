package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service wraps the usage Store with the best-effort emission policy
// spec.md §4.10/§5 describes: recording failures are logged, never
// propagated to the triggering request.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a usage Service.
func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Record appends a usage event, logging (not returning) any failure.
func (s *Service) Record(ctx context.Context, tenantID uuid.UUID, apiKeyID, identityID *uuid.UUID, eventName string, units int, metadata map[string]any) {
	err := s.store.Record(ctx, RecordParams{
		TenantID: tenantID, APIKeyID: apiKeyID, IdentityID: identityID,
		EventName: eventName, Units: units, Metadata: metadata,
	})
	if err != nil {
		s.logger.Warn("recording usage event", "error", err, "event", eventName, "tenant_id", tenantID)
	}
}

// Aggregate folds usage events for the given date's current and previous
// day into UsageDaily (spec.md §4.11's aggregate_usage job runs this
// hourly for "current and previous day").
func (s *Service) Aggregate(ctx context.Context, now time.Time) error {
	today := now.UTC()
	yesterday := today.AddDate(0, 0, -1)

	if err := s.store.AggregateDate(ctx, yesterday); err != nil {
		return err
	}
	return s.store.AggregateDate(ctx, today)
}
