package webhook

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildPayloadIsCanonical(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := map[string]any{"b": 1, "a": 2}

	p1, err := BuildPayload("identity.created", at, data)
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	p2, err := BuildPayload("identity.created", at, data)
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if string(p1) != string(p2) {
		t.Errorf("BuildPayload is not deterministic: %q != %q", p1, p2)
	}

	var decoded OutgoingPayload
	if err := json.Unmarshal(p1, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Event != "identity.created" {
		t.Errorf("Event = %q, want identity.created", decoded.Event)
	}
	if decoded.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("Timestamp = %q, want RFC3339 UTC", decoded.Timestamp)
	}
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"identity.created","timestamp":"2026-01-02T03:04:05Z","data":{}}`)
	sig := Sign("a-secret", payload)

	if !Verify("a-secret", payload, sig) {
		t.Error("Verify() should accept a signature produced by Sign() with the same secret")
	}
	if Verify("wrong-secret", payload, sig) {
		t.Error("Verify() should reject a signature produced with a different secret")
	}
	if Verify("a-secret", []byte("tampered"), sig) {
		t.Error("Verify() should reject a signature over a different payload")
	}
}

func TestGenerateSecretIsUnpredictable(t *testing.T) {
	a := GenerateSecret()
	b := GenerateSecret()
	if a == b {
		t.Error("two generated secrets must not collide")
	}
	if len(a) != 64 {
		t.Errorf("len(GenerateSecret()) = %d, want 64 hex chars for 32 random bytes", len(a))
	}
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 60 * time.Second},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, time.Hour},
		{5, 2 * time.Hour},
		{99, 2 * time.Hour},
	}
	for _, tt := range tests {
		if got := nextRetryDelay(tt.attempts); got != tt.want {
			t.Errorf("nextRetryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
