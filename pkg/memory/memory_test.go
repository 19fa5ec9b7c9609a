package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m := Memory{CreatedAt: created}
	if got := m.ExpiresAt(); got != nil {
		t.Errorf("ExpiresAt() with nil TTLDays = %v, want nil", got)
	}

	ttl := 7
	m.TTLDays = &ttl
	want := created.AddDate(0, 0, 7)
	got := m.ExpiresAt()
	if got == nil || !got.Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", got, want)
	}
}

func TestValidateText(t *testing.T) {
	if err := validateText(""); err == nil {
		t.Error("empty text should be rejected")
	}
	if err := validateText(strings.Repeat("a", MaxTextLength+1)); err == nil {
		t.Error("oversized text should be rejected")
	}
	if err := validateText("hello"); err != nil {
		t.Errorf("valid text rejected: %v", err)
	}
	if err := validateText(strings.Repeat("a", MaxTextLength)); err != nil {
		t.Errorf("text at max length rejected: %v", err)
	}
}

func TestValidateMetadata(t *testing.T) {
	if err := validateMetadata(nil); err != nil {
		t.Errorf("nil metadata should be valid: %v", err)
	}
	if err := validateMetadata(map[string]any{"k": "v"}); err != nil {
		t.Errorf("small metadata rejected: %v", err)
	}

	big := map[string]any{"blob": strings.Repeat("x", MaxMetadataBytes)}
	if err := validateMetadata(big); err == nil {
		t.Error("oversized metadata should be rejected")
	}
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	v := Embedding{0.5, -1.25, 3}
	literal := vectorLiteral(v)
	got := parseVectorLiteral(literal)

	if len(got) != len(v) {
		t.Fatalf("parseVectorLiteral(%q) length = %d, want %d", literal, len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("component %d = %v, want %v", i, got[i], v[i])
		}
	}
}

func TestParseVectorLiteralEmpty(t *testing.T) {
	if got := parseVectorLiteral("[]"); got != nil {
		t.Errorf("parseVectorLiteral([]) = %v, want nil", got)
	}
}

func TestSortByScoreDesc(t *testing.T) {
	candidates := []SearchCandidate{
		{Score: 0.3},
		{Score: 0.9},
		{Score: 0.5},
	}
	sortByScoreDesc(candidates)

	want := []float64{0.9, 0.5, 0.3}
	for i, c := range candidates {
		if c.Score != want[i] {
			t.Errorf("position %d: score = %v, want %v", i, c.Score, want[i])
		}
	}
}

func TestFilterByScore(t *testing.T) {
	candidates := []SearchCandidate{
		{Memory: Memory{ID: uuid.New()}, Score: 0.9},
		{Memory: Memory{ID: uuid.New()}, Score: 0.2},
	}
	results := filterByScore(candidates, 0.5, true)
	if len(results) != 1 {
		t.Fatalf("filterByScore returned %d results, want 1", len(results))
	}
	if results[0].Score != 0.9 || !results[0].Fallback {
		t.Errorf("unexpected result: %+v", results[0])
	}
}
