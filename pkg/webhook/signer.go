package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// GenerateSecret produces a fresh signing secret for a new webhook
// subscription, matching the teacher's pattern of sizing opaque tokens at
// 32 random bytes (see pkg/identity.GenerateRefreshToken).
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// OutgoingPayload is the canonical envelope signed and posted to subscribers
// (spec.md §6: `{"event": string, "timestamp": ISO-8601, "data": object}`).
// Field order is fixed by the struct declaration and json.Marshal sorts any
// map keys inside Data, so two calls with equal inputs always produce byte-
// identical output — the "canonicalize (stable key order)" step of §4.9.
type OutgoingPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// BuildPayload constructs and canonicalizes the outbound envelope.
func BuildPayload(eventType string, at time.Time, data any) ([]byte, error) {
	return json.Marshal(OutgoingPayload{
		Event:     eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
	})
}

// Sign computes the hex-encoded HMAC-SHA256 of canonicalPayload under
// secret, matching spec.md §4.9: "signature = HMAC_SHA256(secret,
// canonical_payload)".
func Sign(secret string, canonicalPayload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonicalPayload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature (the hex digest from X-Webhook-Signature,
// with any "sha256=" prefix already stripped by the caller) matches
// canonicalPayload under secret. Provided for subscriber-side test fixtures
// and for symmetry with the sender; the pipeline itself only signs.
func Verify(secret string, canonicalPayload []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonicalPayload)
	return hmac.Equal(want, mac.Sum(nil))
}
