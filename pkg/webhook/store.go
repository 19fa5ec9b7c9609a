package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/store"
	"github.com/nimbusid/core/pkg/tenant"
)

const webhookColumns = `id, name, url, events, secret, is_active, created_by, tenant_id, created_at, updated_at`

const deliveryColumns = `id, webhook_id, event_type, payload, status, response_code, response_body_snippet, delivery_attempts, next_retry_at, delivered_at, created_at, updated_at`

// Store provides database operations for webhooks and their deliveries.
type Store struct {
	pool store.DBTX
}

// NewStore creates a webhook Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

func scanWebhook(row pgx.Row) (Webhook, error) {
	var w Webhook
	if err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Events, &w.Secret, &w.IsActive, &w.CreatedBy, &w.TenantID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Webhook{}, err
	}
	return w, nil
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	if err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.Status, &d.ResponseCode, &d.ResponseBodySnippet, &d.DeliveryAttempts, &d.NextRetryAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// CreateParams holds parameters for registering a webhook subscription.
type CreateParams struct {
	Name      string
	URL       string
	Events    []string
	Secret    string
	CreatedBy uuid.UUID
	TenantID  *uuid.UUID
}

// Create inserts a new webhook subscription.
func (s *Store) Create(ctx context.Context, p CreateParams) (Webhook, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (name, url, events, secret, is_active, created_by, tenant_id)
		VALUES ($1, $2, $3, $4, true, $5, $6)
		RETURNING `+webhookColumns,
		p.Name, p.URL, p.Events, p.Secret, p.CreatedBy, p.TenantID,
	)
	w, err := scanWebhook(row)
	if err != nil {
		return Webhook{}, store.Translate(err, "webhook not found")
	}
	return w, nil
}

// Get returns a webhook by ID, scoped by tenant.
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	w, err := scanWebhook(row)
	if err != nil {
		return Webhook{}, store.Translate(err, "webhook not found")
	}
	if !scope.Allows(rowTenant(w.TenantID)) {
		return Webhook{}, store.Translate(pgx.ErrNoRows, "webhook not found")
	}
	return w, nil
}

// List returns webhooks visible to scope.
func (s *Store) List(ctx context.Context, scope tenant.Scope, limit, offset int) ([]Webhook, error) {
	var rows pgx.Rows
	var err error
	if scope.System {
		rows, err = s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE tenant_id = $1 OR tenant_id IS NULL ORDER BY created_at DESC LIMIT $2 OFFSET $3`, scope.TenantID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()

	var items []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// ActiveSubscribers returns active webhooks whose tenant matches scope (or
// is system-global) and whose event set matches eventType or "*"
// (spec.md §4.9 subscription resolution). Filtering by event set happens in
// Go rather than SQL since `events` is a plain text array column, not
// indexed for membership lookups at the scale this system targets.
func (s *Store) ActiveSubscribers(ctx context.Context, tenantID *uuid.UUID, eventType string) ([]Webhook, error) {
	var rows pgx.Rows
	var err error
	if tenantID == nil {
		rows, err = s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE is_active = true AND tenant_id IS NULL`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE is_active = true AND (tenant_id = $1 OR tenant_id IS NULL)`, *tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscribers: %w", err)
	}
	defer rows.Close()

	var matched []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		if w.matches(eventType) {
			matched = append(matched, w)
		}
	}
	return matched, rows.Err()
}

// Update replaces a webhook's mutable fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, name, url string, events []string, isActive bool) (Webhook, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE webhooks SET name = $2, url = $3, events = $4, is_active = $5, updated_at = now()
		WHERE id = $1 RETURNING `+webhookColumns,
		id, name, url, events, isActive,
	)
	w, err := scanWebhook(row)
	if err != nil {
		return Webhook{}, store.Translate(err, "webhook not found")
	}
	return w, nil
}

// Delete removes a webhook subscription (and, via FK cascade, its delivery history).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return store.Translate(err, "webhook not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "webhook not found")
	}
	return nil
}

// CreateDelivery inserts a pending delivery row for a matched subscriber.
func (s *Store) CreateDelivery(ctx context.Context, webhookID uuid.UUID, eventType string, payload []byte) (Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (webhook_id, event_type, payload, status, delivery_attempts)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING `+deliveryColumns,
		webhookID, eventType, payload, StatusPending,
	)
	return scanDelivery(row)
}

// GetDelivery returns a single delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		return Delivery{}, store.Translate(err, "webhook delivery not found")
	}
	return d, nil
}

// ListDeliveries returns a webhook's deliveries, most recent first.
func (s *Store) ListDeliveries(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]Delivery, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, webhookID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	defer rows.Close()

	var items []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook delivery row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// MarkDelivered records a successful attempt.
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_code = $3, delivery_attempts = delivery_attempts + 1, delivered_at = now(), next_retry_at = NULL, updated_at = now()
		WHERE id = $1`,
		id, StatusDelivered, responseCode,
	)
	return err
}

// MarkFailedAttempt records a failed attempt, either scheduling a retry or
// transitioning to the terminal failed state at MaxAttempts
// (spec.md §4.9 step 4).
func (s *Store) MarkFailedAttempt(ctx context.Context, id uuid.UUID, attemptsSoFar int, responseCode *int, bodySnippet *string) error {
	attempts := attemptsSoFar + 1
	if attempts >= MaxAttempts {
		_, err := s.pool.Exec(ctx, `
			UPDATE webhook_deliveries
			SET status = $2, response_code = $3, response_body_snippet = $4, delivery_attempts = $5, next_retry_at = NULL, updated_at = now()
			WHERE id = $1`,
			id, StatusFailed, responseCode, bodySnippet, attempts,
		)
		return err
	}

	nextRetry := time.Now().Add(nextRetryDelay(attempts))
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_code = $3, response_body_snippet = $4, delivery_attempts = $5, next_retry_at = $6, updated_at = now()
		WHERE id = $1`,
		id, StatusPending, responseCode, bodySnippet, attempts, nextRetry,
	)
	return err
}

// DueForRetry returns pending deliveries whose next_retry_at has passed, for
// the periodic sweep (spec.md §4.9).
func (s *Store) DueForRetry(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= now()
		ORDER BY next_retry_at ASC LIMIT $2`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries due for retry: %w", err)
	}
	defer rows.Close()

	var items []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook delivery row: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// DeleteTerminalOlderThan removes delivered/failed rows past retention, the
// cleanup_webhook_deliveries job (spec.md §4.11).
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ($1, $2) AND updated_at < now() - $3::interval`,
		StatusDelivered, StatusFailed, fmt.Sprintf("%d seconds", int(age.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting terminal webhook deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowTenant(t *uuid.UUID) uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return *t
}
