package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbusid/core/internal/apierr"
	istore "github.com/nimbusid/core/internal/store"
	"github.com/nimbusid/core/internal/telemetry"
	"github.com/nimbusid/core/pkg/events"
	"github.com/nimbusid/core/pkg/tenant"
	"github.com/nimbusid/core/pkg/usage"
)

// textCandidateScanLimit bounds the ILIKE fallback's candidate scan
// (spec.md §4.7 step 4), keeping the fallback path cheap on large memory
// sets rather than a full table scan.
const textCandidateScanLimit = 500

// Service implements the Memory Core (C7) operations and contracts.
type Service struct {
	pool     *pgxpool.Pool
	store    *Store
	events   *events.Store
	bus      *events.Bus
	usage    *usage.Service
	embedder Embedder
	logger   *slog.Logger
}

// NewService creates a memory Service.
func NewService(pool *pgxpool.Pool, store *Store, eventsStore *events.Store, bus *events.Bus, usageSvc *usage.Service, embedder Embedder, logger *slog.Logger) *Service {
	return &Service{pool: pool, store: store, events: eventsStore, bus: bus, usage: usageSvc, embedder: embedder, logger: logger}
}

// CreateInput holds the caller-supplied fields for Create.
type CreateInput struct {
	IdentityID uuid.UUID
	Text       string
	Type       string
	Metadata   map[string]any
	TTLDays    *int
	TenantID   *uuid.UUID
	ActorID    *uuid.UUID
}

// Create validates and stores a new memory, enqueues async embedding, and
// emits memory.created (spec.md §4.7 Create contract).
func (s *Service) Create(ctx context.Context, in CreateInput) (Memory, error) {
	if err := validateText(in.Text); err != nil {
		return Memory{}, err
	}
	if err := validateMetadata(in.Metadata); err != nil {
		return Memory{}, err
	}
	if in.Type == "" {
		in.Type = "general"
	}

	m, err := s.store.Create(ctx, CreateParams{
		IdentityID: in.IdentityID, Text: in.Text, Type: in.Type,
		Metadata: in.Metadata, TTLDays: in.TTLDays, TenantID: in.TenantID,
	})
	if err != nil {
		return Memory{}, err
	}

	s.enqueueEmbedding(m.ID, m.Text)
	s.emit(ctx, "memory.created", &m.ID, in.ActorID, m.TenantID, map[string]any{"memory_id": m.ID, "type": m.Type})
	if s.usage != nil && in.TenantID != nil {
		s.usage.Record(ctx, *in.TenantID, nil, &in.IdentityID, "memory.create", 1, nil)
	}
	return m, nil
}

// Get returns a memory by ID, enforcing tenant scope.
func (s *Service) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID, includeDeleted bool) (Memory, error) {
	return s.store.Get(ctx, scope, id, includeDeleted)
}

// List returns non-deleted memories for an identity.
func (s *Service) List(ctx context.Context, identityID uuid.UUID, memType *string, limit, offset int) ([]Memory, error) {
	return s.store.List(ctx, identityID, memType, limit, offset)
}

// UpdateInput holds the caller-supplied patch fields for Update.
type UpdateInput struct {
	Text     *string
	Type     *string
	Metadata map[string]any
	TTLDays  *int
	ClearTTL bool
	ActorID  *uuid.UUID
}

// Update applies a patch, enqueuing a re-embed only when text changed
// (spec.md versioning invariant: "an update that doesn't change text must
// not enqueue an embedding job").
func (s *Service) Update(ctx context.Context, scope tenant.Scope, id uuid.UUID, in UpdateInput) (Memory, error) {
	if in.Text != nil {
		if err := validateText(*in.Text); err != nil {
			return Memory{}, err
		}
	}
	if in.Metadata != nil {
		if err := validateMetadata(in.Metadata); err != nil {
			return Memory{}, err
		}
	}

	before, err := s.store.Get(ctx, scope, id, false)
	if err != nil {
		return Memory{}, err
	}
	if !scope.CanWriteAs(rowTenant(before.TenantID)) {
		return Memory{}, apierr.AccessDenied("", "update", "memory", nil)
	}

	m, textChanged, err := s.store.Update(ctx, id, PatchParams{
		Text: in.Text, Type: in.Type, Metadata: in.Metadata, TTLDays: in.TTLDays, ClearTTL: in.ClearTTL,
	})
	if err != nil {
		return Memory{}, err
	}

	if textChanged {
		s.enqueueEmbedding(m.ID, m.Text)
	}
	s.emit(ctx, "memory.updated", &m.ID, in.ActorID, m.TenantID, map[string]any{"memory_id": m.ID, "text_changed": textChanged})
	return m, nil
}

// Delete soft- or hard-deletes a memory (spec.md §4.7 Delete contract).
func (s *Service) Delete(ctx context.Context, scope tenant.Scope, id uuid.UUID, hard bool, actorID *uuid.UUID) error {
	current, err := s.store.Get(ctx, scope, id, false)
	if err != nil {
		return err
	}
	if !scope.CanWriteAs(rowTenant(current.TenantID)) {
		return apierr.AccessDenied("", "delete", "memory", nil)
	}

	eventType := "memory.deleted"
	if hard {
		eventType = "memory.hard_deleted"
		err = s.store.HardDelete(ctx, id)
	} else {
		err = s.store.SoftDelete(ctx, id)
	}
	if err != nil {
		return err
	}

	s.emit(ctx, eventType, &id, actorID, current.TenantID, map[string]any{"memory_id": id, "hard": hard})
	return nil
}

// SearchInput holds the caller-supplied fields for Search.
type SearchInput struct {
	IdentityID uuid.UUID
	QueryText  string
	Type       *string
	K          int
	MinScore   float64
}

// SearchResult is a ranked memory plus the search metadata spec.md §4.7
// requires ("the fallback is explicitly marked in the response metadata").
type SearchResult struct {
	Memory   Memory
	Score    float64
	Fallback bool
}

// Search ranks memories by cosine similarity to the query, falling back to
// a substring match when the embedding collaborator fails
// (spec.md §4.7 Search contract).
func (s *Service) Search(ctx context.Context, scope tenant.Scope, in SearchInput) ([]SearchResult, error) {
	if in.K <= 0 {
		in.K = 10
	}

	if s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, in.QueryText)
		if err == nil {
			candidates, err := s.store.SearchVector(ctx, scope, in.IdentityID, vector, in.Type, in.K)
			if err != nil {
				return nil, err
			}
			return filterByScore(candidates, in.MinScore, false), nil
		}
		s.logger.Warn("embedding query text, falling back to substring match", "error", err)
	}

	telemetry.MemorySearchFallbackTotal.Inc()
	candidates, err := s.store.SearchTextCandidates(ctx, scope, in.IdentityID, in.Type, textCandidateScanLimit)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(in.QueryText)
	scored := make([]SearchCandidate, 0, len(candidates))
	for _, m := range candidates {
		score := 0.3
		if query != "" && strings.Contains(strings.ToLower(m.Text), query) {
			score = 0.8
		}
		scored = append(scored, SearchCandidate{Memory: m, Score: score})
	}
	sortByScoreDesc(scored)
	if len(scored) > in.K {
		scored = scored[:in.K]
	}

	results := filterByScore(scored, in.MinScore, true)
	if s.usage != nil && in.IdentityID != uuid.Nil {
		// tenant_id recorded only when scope is tenant-bound; system-scope
		// searches aren't attributed to usage.
		if !scope.System {
			s.usage.Record(ctx, scope.TenantID, nil, &in.IdentityID, "memory.search", 1, nil)
		}
	}
	return results, nil
}

func filterByScore(candidates []SearchCandidate, minScore float64, fallback bool) []SearchResult {
	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < minScore {
			continue
		}
		results = append(results, SearchResult{Memory: c.Memory, Score: c.Score, Fallback: fallback})
	}
	return results
}

func sortByScoreDesc(c []SearchCandidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Score > c[j-1].Score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func validateText(text string) error {
	if len(text) == 0 || len(text) > MaxTextLength {
		return apierr.Validation("text must be non-empty and at most 10000 characters", nil)
	}
	return nil
}

func validateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return apierr.Validation("metadata must be JSON-serializable", nil)
	}
	if len(b) > MaxMetadataBytes {
		return apierr.Validation("metadata exceeds maximum size", nil)
	}
	return nil
}

// enqueueEmbedding runs the embedding call in the background so Create/
// Update return immediately (spec.md §4.7: "the memory is immediately
// readable without a vector").
func (s *Service) enqueueEmbedding(id uuid.UUID, text string) {
	if s.embedder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("embedding memory text", "error", err, "memory_id", id)
			return
		}
		if err := s.store.SetVector(ctx, id, vector); err != nil {
			s.logger.Warn("storing memory embedding", "error", err, "memory_id", id)
		}
	}()
}

// emit records one IdentityEvent and publishes it, mirroring the
// identity package's writeAudit best-effort pattern: the mutation has
// already committed, so this is a best-effort follow-up write rather than
// the stricter in-transaction I4 guarantee.
func (s *Service) emit(ctx context.Context, eventType string, memoryID, actorID, tenantID *uuid.UUID, data map[string]any) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("encoding event payload", "error", err, "event_type", eventType)
		return
	}

	var ev events.Event
	txErr := istore.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		txStore := events.NewStore(tx)
		ev, err = txStore.Append(ctx, tx, events.AppendParams{
			EventType: eventType, IdentityID: memoryID, ActorID: actorID,
			Payload: payload, TenantID: tenantID,
		})
		return err
	})
	if txErr != nil {
		s.logger.Error("appending memory event", "error", txErr, "event_type", eventType)
		return
	}
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
