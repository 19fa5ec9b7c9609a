package memory

import "time"

// Response is the wire representation of a Memory.
type Response struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Version   int            `json:"version"`
	TTLDays   *int           `json:"ttl_days,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	TenantID  *string        `json:"tenant_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toResponse(m Memory) Response {
	var tenantID *string
	if m.TenantID != nil {
		s := m.TenantID.String()
		tenantID = &s
	}
	return Response{
		ID: m.ID.String(), Text: m.Text, Type: m.Type, Metadata: m.Metadata,
		Version: m.Version, TTLDays: m.TTLDays, ExpiresAt: m.ExpiresAt(),
		TenantID: tenantID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

// CreateRequest is the payload for POST /memory.
type CreateRequest struct {
	Text     string         `json:"text" validate:"required,max=10000"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TTLDays  *int           `json:"ttl_days,omitempty" validate:"omitempty,min=1"`
}

// UpdateRequest is the payload for PUT /memory/{id}.
type UpdateRequest struct {
	Text     *string        `json:"text,omitempty" validate:"omitempty,max=10000"`
	Type     *string        `json:"type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TTLDays  *int           `json:"ttl_days,omitempty" validate:"omitempty,min=1"`
	ClearTTL bool           `json:"clear_ttl,omitempty"`
}

// SearchRequest is the payload for POST /memory/search.
type SearchRequest struct {
	Query    string  `json:"query" validate:"required"`
	Type     *string `json:"type,omitempty"`
	K        int     `json:"k,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

// SearchResultResponse is one ranked hit in a search response.
type SearchResultResponse struct {
	Response
	Score float64 `json:"score"`
}

// SearchResponse is the payload for POST /memory/search, including the
// fallback flag spec.md §4.7 requires be surfaced in response metadata.
type SearchResponse struct {
	Results  []SearchResultResponse `json:"results"`
	Fallback bool                   `json:"fallback"`
}

func toSearchResponse(results []SearchResult) SearchResponse {
	out := SearchResponse{Results: make([]SearchResultResponse, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultResponse{Response: toResponse(r.Memory), Score: r.Score})
		if r.Fallback {
			out.Fallback = true
		}
	}
	return out
}
