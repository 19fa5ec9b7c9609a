package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPEmbedder calls an external embedding provider's HTTP API, the
// deployable collaborator behind the Embedder interface
// (grounded on Mindburn-Labs-helm/core/pkg/store/embeddings.go's
// OpenAIEmbedder: POST {input, model}, read data[0].embedding).
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPEmbedder creates an HTTPEmbedder targeting baseURL (an
// OpenAI-compatible embeddings endpoint).
func NewHTTPEmbedder(baseURL, apiKey, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed requests a single embedding vector for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	if e.baseURL == "" {
		return nil, errors.New("embedding provider url not configured")
	}

	body, err := json.Marshal(map[string]any{"input": text, "model": e.model})
	if err != nil {
		return nil, fmt.Errorf("encoding embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, errors.New("embedding provider returned no vectors")
	}
	return Embedding(result.Data[0].Embedding), nil
}
