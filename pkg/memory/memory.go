// Package memory implements the Memory Core (C7): versioned, soft-deletable
// text memories with an optional embedding vector and hybrid vector/text
// search. Grounded on Mindburn-Labs-helm/core/pkg/store/embeddings.go for
// the Embedder interface shape and the pgvector cosine-distance query
// (`1 - (vector <=> $1::vector) AS score`), and on
// Abraxas-365-manifesto/pkg/ai/vstore/providers/vstpgvector for the
// vector(N) column / cast-to-vector-literal convention. No pgvector pgx
// binding exists in the example pack, so vectors are passed the same way
// the Mindburn example does: formatted as a `[v1,v2,...]` text literal and
// cast with `::vector` in SQL, rather than introducing an unvetted driver
// dependency.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxTextLength is the upper bound on Memory.Text (spec.md §4.7:
// "0 < len(text) <= 10_000").
const MaxTextLength = 10_000

// MaxMetadataBytes bounds the serialized size of Memory.Metadata.
const MaxMetadataBytes = 16 * 1024

// Embedding is a single embedding vector. The dimensionality is fixed per
// deployment by the memories.vector column type (vector(384)); this package
// does not read config.EmbeddingDimensions or check vector length.
type Embedding []float32

// Embedder produces an embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

// Memory is the spec.md §3 Memory entity.
type Memory struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	Text       string
	Vector     Embedding
	Type       string
	Metadata   map[string]any
	Score      *float64
	Version    int
	TTLDays    *int
	IsDeleted  bool
	DeletedAt  *time.Time
	TenantID   *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExpiresAt returns created_at + ttl_days when ttl_days is set
// (spec.md §3: "expires_at = created_at + ttl_days when ttl_days set").
func (m Memory) ExpiresAt() *time.Time {
	if m.TTLDays == nil {
		return nil
	}
	t := m.CreatedAt.AddDate(0, 0, *m.TTLDays)
	return &t
}
