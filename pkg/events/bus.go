package events

import (
	"context"
	"log/slog"
)

// Publisher hands an Event off to the Webhook Pipeline. Dispatch returns
// done=true once every matching subscription has reached a terminal state
// (delivered or permanently failed), at which point the Bus marks the
// event's ledger row delivered.
type Publisher interface {
	Dispatch(ctx context.Context, ev Event) (done bool, err error)
}

// Bus publishes committed IdentityEvent rows to subscribers asynchronously,
// mirroring the teacher's escalation engine's detached dispatch of a
// just-persisted record rather than blocking the request that produced it.
type Bus struct {
	store     *Store
	publisher Publisher
	logger    *slog.Logger
}

// NewBus creates an event Bus. publisher may be nil in configurations that
// run without the webhook pipeline wired (e.g. some tests); Publish then
// becomes a no-op beyond the non-standard-type log line.
func NewBus(store *Store, publisher Publisher, logger *slog.Logger) *Bus {
	return &Bus{store: store, publisher: publisher, logger: logger}
}

// Publish schedules asynchronous delivery of an already-committed event. It
// must be called only after the caller's transaction (which appended ev via
// Store.Append) has committed.
func (b *Bus) Publish(ev Event) {
	if !IsStandardType(ev.EventType) {
		b.logger.Warn("non-standard event type", "event_type", ev.EventType, "event_id", ev.ID)
	}
	if b.publisher == nil {
		return
	}
	go b.dispatch(ev)
}

func (b *Bus) dispatch(ev Event) {
	ctx := context.Background()
	done, err := b.publisher.Dispatch(ctx, ev)
	if err != nil {
		b.logger.Error("dispatching event", "event_id", ev.ID, "error", err)
		return
	}
	if done {
		if err := b.store.MarkDelivered(ctx, ev.ID); err != nil {
			b.logger.Error("marking event delivered", "event_id", ev.ID, "error", err)
		}
	}
}
