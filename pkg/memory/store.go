package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nimbusid/core/internal/store"
	"github.com/nimbusid/core/pkg/tenant"
)

const memoryColumns = `id, identity_id, text, vector, type, metadata, version, ttl_days, is_deleted, deleted_at, tenant_id, created_at, updated_at`

// Store provides database operations for memories, including the
// pgvector-backed vector search and its ILIKE text fallback.
type Store struct {
	pool store.DBTX
}

// NewStore creates a memory Store over a pool or open transaction.
func NewStore(pool store.DBTX) *Store {
	return &Store{pool: pool}
}

func scanMemory(row pgx.Row) (Memory, error) {
	var m Memory
	var vecStr *string
	if err := row.Scan(&m.ID, &m.IdentityID, &m.Text, &vecStr, &m.Type, &m.Metadata, &m.Version, &m.TTLDays, &m.IsDeleted, &m.DeletedAt, &m.TenantID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Memory{}, err
	}
	if vecStr != nil {
		m.Vector = parseVectorLiteral(*vecStr)
	}
	return m, nil
}

// CreateParams holds parameters for creating a memory.
type CreateParams struct {
	IdentityID uuid.UUID
	Text       string
	Type       string
	Metadata   map[string]any
	TTLDays    *int
	TenantID   *uuid.UUID
}

// Create inserts a new memory with version=1 and no vector
// (spec.md §4.7: "the memory is immediately readable without a vector").
func (s *Store) Create(ctx context.Context, p CreateParams) (Memory, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO memories (identity_id, text, vector, type, metadata, version, ttl_days, is_deleted, tenant_id)
		VALUES ($1, $2, NULL, $3, $4, 1, $5, false, $6)
		RETURNING `+memoryColumns,
		p.IdentityID, p.Text, p.Type, p.Metadata, p.TTLDays, p.TenantID,
	)
	m, err := scanMemory(row)
	if err != nil {
		return Memory{}, store.Translate(err, "memory not found")
	}
	return m, nil
}

// Get returns a memory by ID, scoped by tenant. includeDeleted opts into
// seeing soft-deleted rows (spec.md §4.7 Get contract).
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID, includeDeleted bool) (Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = false`
	}
	row := s.pool.QueryRow(ctx, query, id)
	m, err := scanMemory(row)
	if err != nil {
		return Memory{}, store.Translate(err, "memory not found")
	}
	if !scope.Allows(rowTenant(m.TenantID)) {
		return Memory{}, store.Translate(pgx.ErrNoRows, "memory not found")
	}
	return m, nil
}

// List returns non-deleted memories for identityID, optionally filtered by
// type, ordered by created_at desc (spec.md §4.7 List contract).
func (s *Store) List(ctx context.Context, identityID uuid.UUID, memType *string, limit, offset int) ([]Memory, error) {
	var rows pgx.Rows
	var err error
	if memType != nil {
		rows, err = s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE identity_id = $1 AND type = $2 AND is_deleted = false ORDER BY created_at DESC LIMIT $3 OFFSET $4`, identityID, *memType, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE identity_id = $1 AND is_deleted = false ORDER BY created_at DESC LIMIT $2 OFFSET $3`, identityID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var items []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// PatchParams holds the optional fields Update may change.
type PatchParams struct {
	Text     *string
	Type     *string
	Metadata map[string]any
	TTLDays  *int
	ClearTTL bool
}

// Update applies a patch, incrementing version and, when Text changed,
// clearing Vector so the memory gets re-embedded: Service.Update enqueues
// it, and backfill_embeddings picks up any null vector
// (spec.md I3, §4.7 Update contract). Returns the updated memory and
// whether the text actually changed.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p PatchParams) (Memory, bool, error) {
	current, err := s.Get(ctx, tenant.SystemScope(), id, false)
	if err != nil {
		return Memory{}, false, err
	}

	text := current.Text
	textChanged := false
	if p.Text != nil && *p.Text != current.Text {
		text = *p.Text
		textChanged = true
	}
	memType := current.Type
	if p.Type != nil {
		memType = *p.Type
	}
	metadata := current.Metadata
	if p.Metadata != nil {
		metadata = p.Metadata
	}
	ttlDays := current.TTLDays
	if p.ClearTTL {
		ttlDays = nil
	} else if p.TTLDays != nil {
		ttlDays = p.TTLDays
	}

	var row pgx.Row
	if textChanged {
		row = s.pool.QueryRow(ctx, `
			UPDATE memories SET text = $2, vector = NULL, type = $3, metadata = $4, ttl_days = $5, version = version + 1, updated_at = now()
			WHERE id = $1 RETURNING `+memoryColumns,
			id, text, memType, metadata, ttlDays,
		)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE memories SET type = $2, metadata = $3, ttl_days = $4, version = version + 1, updated_at = now()
			WHERE id = $1 RETURNING `+memoryColumns,
			id, memType, metadata, ttlDays,
		)
	}

	m, err := scanMemory(row)
	if err != nil {
		return Memory{}, false, store.Translate(err, "memory not found")
	}
	return m, textChanged, nil
}

// SetVector stores a freshly computed embedding, the completion side of the
// async embedding job.
func (s *Store) SetVector(ctx context.Context, id uuid.UUID, vector Embedding) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET vector = $2::vector WHERE id = $1`, id, vectorLiteral(vector))
	return err
}

// SoftDelete marks a memory deleted without removing the row
// (spec.md §3: "Soft-deleted rows remain addressable for audit").
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memories SET is_deleted = true, deleted_at = now(), updated_at = now() WHERE id = $1 AND is_deleted = false`, id)
	if err != nil {
		return store.Translate(err, "memory not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "memory not found or already deleted")
	}
	return nil
}

// HardDelete removes the row entirely.
func (s *Store) HardDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return store.Translate(err, "memory not found")
	}
	if tag.RowsAffected() == 0 {
		return store.Translate(pgx.ErrNoRows, "memory not found")
	}
	return nil
}

// SearchCandidate is a Memory with an attached similarity score.
type SearchCandidate struct {
	Memory
	Score float64
}

// SearchVector ranks memories by cosine similarity to queryVector,
// restricted to (tenant, identity, not is_deleted, type? match)
// (spec.md §4.7 Search step 2). The vector <=> operator is pgvector's
// cosine distance; score = 1 - distance, matching the Mindburn reference.
func (s *Store) SearchVector(ctx context.Context, scope tenant.Scope, identityID uuid.UUID, queryVector Embedding, memType *string, k int) ([]SearchCandidate, error) {
	literal := vectorLiteral(queryVector)

	query := `SELECT ` + memoryColumns + `, 1 - (vector <=> $1::vector) AS score
		FROM memories
		WHERE identity_id = $2 AND is_deleted = false AND vector IS NOT NULL`
	args := []any{literal, identityID}
	argN := 3
	if !scope.System {
		query += fmt.Sprintf(" AND (tenant_id = $%d OR tenant_id IS NULL)", argN)
		args = append(args, scope.TenantID)
		argN++
	}
	if memType != nil {
		query += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, *memType)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY vector <=> $1::vector LIMIT $%d", argN)
	args = append(args, k)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching memories by vector: %w", err)
	}
	defer rows.Close()

	var items []SearchCandidate
	for rows.Next() {
		var m Memory
		var vecStr *string
		var score float64
		if err := rows.Scan(&m.ID, &m.IdentityID, &m.Text, &vecStr, &m.Type, &m.Metadata, &m.Version, &m.TTLDays, &m.IsDeleted, &m.DeletedAt, &m.TenantID, &m.CreatedAt, &m.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("scanning memory search row: %w", err)
		}
		if vecStr != nil {
			m.Vector = parseVectorLiteral(*vecStr)
		}
		items = append(items, SearchCandidate{Memory: m, Score: score})
	}
	return items, rows.Err()
}

// SearchTextCandidates returns a bounded, recency-ordered candidate set for
// the ILIKE text-match fallback (spec.md §4.7 Search step 4); scoring
// itself (0.8 substring hit, 0.3 otherwise) is applied by the caller since
// it depends on the original query text, not SQL.
func (s *Store) SearchTextCandidates(ctx context.Context, scope tenant.Scope, identityID uuid.UUID, memType *string, limit int) ([]Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE identity_id = $1 AND is_deleted = false`
	args := []any{identityID}
	argN := 2
	if !scope.System {
		query += fmt.Sprintf(" AND (tenant_id = $%d OR tenant_id IS NULL)", argN)
		args = append(args, scope.TenantID)
		argN++
	}
	if memType != nil {
		query += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, *memType)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memory search candidates: %w", err)
	}
	defer rows.Close()

	var items []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// PendingEmbeddings returns non-deleted memories with no vector yet, for
// the backfill_embeddings worker job (spec.md §4.11), bounded to batchSize.
func (s *Store) PendingEmbeddings(ctx context.Context, batchSize int) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE is_deleted = false AND vector IS NULL ORDER BY created_at ASC LIMIT $1`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("listing memories pending embedding: %w", err)
	}
	defer rows.Close()

	var items []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// DeleteExpiredByTTL hard-deletes memories whose ttl_days has elapsed, the
// cleanup_memories worker job (spec.md §4.11).
func (s *Store) DeleteExpiredByTTL(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM memories
		WHERE ttl_days IS NOT NULL AND now() > created_at + (ttl_days * interval '1 day')`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired memories: %w", err)
	}
	return tag.RowsAffected(), nil
}

func vectorLiteral(v Embedding) string {
	if v == nil {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVectorLiteral(s string) Embedding {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Embedding, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

func rowTenant(t *uuid.UUID) uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return *t
}
