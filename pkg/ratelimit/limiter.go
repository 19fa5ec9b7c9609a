package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/telemetry"
	"github.com/nimbusid/core/pkg/cache"
	"github.com/nimbusid/core/pkg/events"
)

// Limiter enforces the per-endpoint-class fixed window described in
// spec.md §4.6, preferring the Redis fast path (C2) and falling back to a
// Postgres-backed counter when the cache is unreachable.
type Limiter struct {
	cache  *cache.Cache
	store  *Store
	events *events.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewLimiter creates a Limiter. bus may be nil in configurations that don't
// wire the event bus (e.g. unit tests); Check then simply skips publishing.
func NewLimiter(c *cache.Cache, store *Store, eventStore *events.Store, bus *events.Bus, logger *slog.Logger) *Limiter {
	return &Limiter{cache: c, store: store, events: eventStore, bus: bus, logger: logger}
}

// Check runs the spec.md §4.6 algorithm for one request: clientKey is
// "identity:<id>" for an authenticated caller or "ip:<client_ip>"
// otherwise; class is derived via ClassForPath; role drives the
// per-role multiplier.
func (l *Limiter) Check(ctx context.Context, clientKey string, class Class, role string, tenantID *uuid.UUID) (Result, error) {
	limit := class.BaseLimit * roleMultiplier(role)
	window := time.Duration(class.WindowSeconds) * time.Second

	count, ttl, err := l.checkFastPath(ctx, clientKey, class, window)
	if err != nil {
		l.logger.Warn("rate limit cache unavailable, falling back to postgres", "error", err)
		count, ttl, err = l.checkFallback(ctx, clientKey, class, window, tenantID)
		if err != nil {
			return Result{}, fmt.Errorf("rate limit fallback: %w", err)
		}
	}

	resetAt := time.Now().Add(ttl)
	if count > int64(limit) {
		telemetry.RateLimitExceededTotal.WithLabelValues(class.Name).Inc()
		l.publishExceeded(clientKey, class, role, limit, tenantID)
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *Limiter) checkFastPath(ctx context.Context, clientKey string, class Class, window time.Duration) (int64, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", clientKey, class.Name)
	return l.cache.Incr(ctx, key, window)
}

func (l *Limiter) checkFallback(ctx context.Context, clientKey string, class Class, window time.Duration, tenantID *uuid.UUID) (int64, time.Duration, error) {
	count, windowEnd, err := l.store.IncrWindow(ctx, clientKey, class.Name, window, tenantID)
	if err != nil {
		return 0, 0, err
	}
	return count, time.Until(windowEnd), nil
}

// publishExceeded emits rate_limit.exceeded via C8 (spec.md §4.6 step 2).
// Failure to publish never affects the rate-limit decision itself.
func (l *Limiter) publishExceeded(clientKey string, class Class, role string, limit int, tenantID *uuid.UUID) {
	if l.bus == nil || l.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"client_key": clientKey,
		"class":      class.Name,
		"role":       role,
		"limit":      limit,
	})
	if err != nil {
		l.logger.Error("encoding rate_limit.exceeded payload", "error", err)
		return
	}

	ctx := context.Background()
	ev, err := l.events.AppendStandalone(ctx, events.AppendParams{
		EventType: "rate_limit.exceeded",
		Payload:   payload,
		TenantID:  tenantID,
	})
	if err != nil {
		l.logger.Error("appending rate_limit.exceeded event", "error", err)
		return
	}
	l.bus.Publish(ev)
}
