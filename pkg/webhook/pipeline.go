package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/core/internal/telemetry"
	"github.com/nimbusid/core/pkg/events"
	"github.com/nimbusid/core/pkg/tenant"
)

const responseSnippetLimit = 2048

// Pipeline delivers committed IdentityEvent rows to subscribed webhooks. It
// implements events.Publisher, connecting the Event Bus (C8) to the
// Webhook Pipeline (C9) without C8 importing this package.
type Pipeline struct {
	store      *Store
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPipeline creates a delivery Pipeline. timeout bounds each outbound POST
// (spec.md §4.9: "a 30-second request timeout").
func NewPipeline(store *Store, timeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Dispatch resolves subscribers for ev, creates a pending Delivery per
// match, attempts each once immediately, and reports done=true only if
// every matched subscriber reached a terminal state on this first attempt
// (spec.md §4.8: "marks the row is_delivered when all subscribers are
// either delivered or permanently failed").
func (p *Pipeline) Dispatch(ctx context.Context, ev events.Event) (bool, error) {
	subscribers, err := p.store.ActiveSubscribers(ctx, ev.TenantID, ev.EventType)
	if err != nil {
		return false, fmt.Errorf("resolving webhook subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		return true, nil
	}

	canonicalPayload, err := BuildPayload(ev.EventType, ev.CreatedAt, ev.Payload)
	if err != nil {
		return false, fmt.Errorf("building webhook payload: %w", err)
	}

	allTerminal := true
	for _, wh := range subscribers {
		delivery, err := p.store.CreateDelivery(ctx, wh.ID, ev.EventType, canonicalPayload)
		if err != nil {
			p.logger.Error("creating webhook delivery", "webhook_id", wh.ID, "error", err)
			allTerminal = false
			continue
		}
		if !p.attempt(ctx, wh, delivery) {
			allTerminal = false
		}
	}
	return allTerminal, nil
}

// attempt performs one delivery POST and records its outcome, returning
// whether the delivery reached a terminal state.
func (p *Pipeline) attempt(ctx context.Context, wh Webhook, d Delivery) bool {
	signature := Sign(wh.Secret, d.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(d.Payload))
	if err != nil {
		p.logger.Error("building webhook request", "webhook_id", wh.ID, "delivery_id", d.ID, "error", err)
		return p.recordFailure(ctx, d, nil, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Delivery", d.ID.String())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("webhook delivery failed", "webhook_id", wh.ID, "delivery_id", d.ID, "error", err)
		return p.recordFailure(ctx, d, nil, nil)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippetLimit))
	snippet := string(body)
	code := resp.StatusCode

	if code >= 200 && code < 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		if err := p.store.MarkDelivered(ctx, d.ID, code); err != nil {
			p.logger.Error("marking webhook delivery delivered", "delivery_id", d.ID, "error", err)
		}
		return true
	}
	return p.recordFailure(ctx, d, &code, &snippet)
}

func (p *Pipeline) recordFailure(ctx context.Context, d Delivery, code *int, snippet *string) bool {
	attempts := d.DeliveryAttempts
	telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	if err := p.store.MarkFailedAttempt(ctx, d.ID, attempts, code, snippet); err != nil {
		p.logger.Error("recording webhook delivery failure", "delivery_id", d.ID, "error", err)
	}
	return attempts+1 >= MaxAttempts
}

// Sweep retries deliveries due for a retry (spec.md §4.9: "a periodic sweep
// selects pending deliveries with next_retry_at ≤ now and re-attempts
// them"). It is the body of the retry_webhook_deliveries worker job.
func (p *Pipeline) Sweep(ctx context.Context, batchSize int) (int, error) {
	due, err := p.store.DueForRetry(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing deliveries due for retry: %w", err)
	}

	webhooks := map[uuid.UUID]Webhook{}
	retried := 0
	for _, d := range due {
		wh, ok := webhooks[d.WebhookID]
		if !ok {
			wh, err = p.store.Get(ctx, tenant.SystemScope(), d.WebhookID)
			if err != nil {
				p.logger.Error("loading webhook for retry", "webhook_id", d.WebhookID, "error", err)
				continue
			}
			webhooks[d.WebhookID] = wh
		}
		p.attempt(ctx, wh, d)
		retried++
	}
	return retried, nil
}

// CleanupTerminal deletes delivered/failed rows past retention, the
// cleanup_webhook_deliveries job (spec.md §4.11).
func (p *Pipeline) CleanupTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	return p.store.DeleteTerminalOlderThan(ctx, retention)
}
