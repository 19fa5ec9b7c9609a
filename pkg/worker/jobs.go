package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbusid/core/pkg/identity"
	"github.com/nimbusid/core/pkg/memory"
	"github.com/nimbusid/core/pkg/ratelimit"
	"github.com/nimbusid/core/pkg/usage"
	"github.com/nimbusid/core/pkg/webhook"
)

// rateLimitRetention is the RateLimit row max age spec.md §4.11's
// cleanup_rate_limits job enforces ("window_start < now - 24h").
const rateLimitRetention = 24 * time.Hour

// embeddingBackfillBatchSize bounds how many memories backfill_embeddings
// re-embeds per tick (spec.md §4.11: "enqueue embeddings in bounded batches").
const embeddingBackfillBatchSize = 100

// webhookSweepBatchSize bounds how many due deliveries retry_webhook_deliveries
// retries per tick.
const webhookSweepBatchSize = 200

// Jobs builds the seven named jobs spec.md §4.11 lists, wired to their
// owning component's store/service.
func Jobs(
	logger *slog.Logger,
	sessions *identity.SessionService,
	memoryStore *memory.Store,
	embedder memory.Embedder,
	rateLimitStore *ratelimit.Store,
	webhookStore *webhook.Store,
	webhookPipeline *webhook.Pipeline,
	webhookRetention time.Duration,
	usageSvc *usage.Service,
) []Job {
	return []Job{
		{
			Name:     "cleanup_sessions",
			Interval: 6 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := sessions.Cleanup(ctx)
				if err != nil {
					return err
				}
				logger.Info("cleanup_sessions completed", "sessions_expired", n)
				return nil
			},
		},
		{
			Name:     "cleanup_memories",
			Interval: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := memoryStore.DeleteExpiredByTTL(ctx)
				if err != nil {
					return err
				}
				logger.Info("cleanup_memories completed", "memories_deleted", n)
				return nil
			},
		},
		{
			Name:     "cleanup_rate_limits",
			Interval: 2 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := rateLimitStore.CleanupOlderThan(ctx, rateLimitRetention)
				if err != nil {
					return err
				}
				logger.Info("cleanup_rate_limits completed", "rows_deleted", n)
				return nil
			},
		},
		{
			Name:     "cleanup_webhook_deliveries",
			Interval: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := webhookPipeline.CleanupTerminal(ctx, webhookRetention)
				if err != nil {
					return err
				}
				logger.Info("cleanup_webhook_deliveries completed", "rows_deleted", n)
				return nil
			},
		},
		{
			Name:     "retry_webhook_deliveries",
			Interval: 15 * time.Minute,
			Run: func(ctx context.Context) error {
				n, err := webhookPipeline.Sweep(ctx, webhookSweepBatchSize)
				if err != nil {
					return err
				}
				logger.Info("retry_webhook_deliveries completed", "deliveries_attempted", n)
				return nil
			},
		},
		{
			Name:     "backfill_embeddings",
			Interval: 30 * time.Minute,
			Run: func(ctx context.Context) error {
				return backfillEmbeddings(ctx, logger, memoryStore, embedder)
			},
		},
		{
			Name:     "aggregate_usage",
			Interval: time.Hour,
			Run: func(ctx context.Context) error {
				return usageSvc.Aggregate(ctx, time.Now())
			},
		},
	}
}

// backfillEmbeddings re-embeds non-deleted memories with a null vector in
// bounded batches (spec.md §4.11: "backfill_embeddings").
func backfillEmbeddings(ctx context.Context, logger *slog.Logger, memoryStore *memory.Store, embedder memory.Embedder) error {
	if embedder == nil {
		return nil
	}

	pending, err := memoryStore.PendingEmbeddings(ctx, embeddingBackfillBatchSize)
	if err != nil {
		return err
	}

	embedded := 0
	for _, m := range pending {
		vector, err := embedder.Embed(ctx, m.Text)
		if err != nil {
			logger.Warn("backfill_embeddings: embedding memory", "memory_id", m.ID, "error", err)
			continue
		}
		if err := memoryStore.SetVector(ctx, m.ID, vector); err != nil {
			logger.Warn("backfill_embeddings: storing vector", "memory_id", m.ID, "error", err)
			continue
		}
		embedded++
	}
	logger.Info("backfill_embeddings completed", "candidates", len(pending), "embedded", embedded)
	return nil
}
