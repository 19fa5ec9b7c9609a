package events

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestIsStandardType(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{"identity.created", true},
		{"memory.search", true},
		{"policy.updated", true},
		{"api_key.revoked", true},
		{"invitation.accepted", true},
		{"session.refreshed", true},
		{"rate_limit.exceeded", true},
		{"webhook.delivered", true},
		{"gadget.exploded", false},
	}
	for _, tt := range tests {
		if got := IsStandardType(tt.eventType); got != tt.want {
			t.Errorf("IsStandardType(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	done bool
	err  error
}

func (f *fakePublisher) Dispatch(ctx context.Context, ev Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done, f.err
}

func TestBusPublishMarksDeliveredOnlyWhenDone(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A nil *Store would panic if MarkDelivered were ever called, so a
	// publisher that reports done=false must never trigger it.
	bus := NewBus(nil, &fakePublisher{done: false}, logger)
	bus.Publish(Event{EventType: "identity.created"})

	// Give the goroutine a moment; absence of a panic is the assertion.
	time.Sleep(10 * time.Millisecond)
}

func TestBusPublishNoopWithoutPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	bus := NewBus(nil, nil, logger)
	bus.Publish(Event{EventType: "identity.created"})

	if buf.Len() != 0 {
		t.Errorf("expected no log output for a standard event type, got %q", buf.String())
	}
}

func TestBusPublishLogsNonStandardType(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	bus := NewBus(nil, nil, logger)
	bus.Publish(Event{EventType: "gadget.exploded"})

	if buf.Len() == 0 {
		t.Error("expected a log line for a non-standard event type")
	}
}
