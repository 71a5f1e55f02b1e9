package shared

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the domain events emitted after each commit.
type EventKind string

const (
	// EventStageCreated fires after a stage record is created.
	EventStageCreated EventKind = "stage-created"
	// EventStageUpdated fires after a stage record is mutated in place.
	EventStageUpdated EventKind = "stage-updated"
	// EventStageDeleted fires after a stage record is removed.
	EventStageDeleted EventKind = "stage-deleted"
	// EventReturnAccepted fires when a customer return transitions to Accepted.
	EventReturnAccepted EventKind = "return-accepted"
	// EventPaymentApplied fires after a unit payment is walked over its bills.
	EventPaymentApplied EventKind = "payment-applied"
)

// Event carries the before/after snapshot of conservation-relevant fields.
type Event struct {
	ID       string         `json:"id"`
	Kind     EventKind      `json:"kind"`
	Family   string         `json:"family"`
	EntityID string         `json:"entity_id"`
	Actor    string         `json:"actor"`
	At       time.Time      `json:"at"`
	Seq      uint64         `json:"seq"`
	Before   map[string]any `json:"before,omitempty"`
	After    map[string]any `json:"after,omitempty"`
}

// Subscriber receives events after commit. Notify must not block; slow
// consumers buffer or drop on their own.
type Subscriber interface {
	Notify(evt Event)
}

// Bus fans committed events out to subscribers. Publishing is
// fire-and-forget: the ledger never waits on a consumer. Sequence
// numbers reflect commit order within the single writer.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	subs   []Subscriber
	logger *slog.Logger
}

// NewBus constructs an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a consumer. Not safe to call concurrently with
// Publish from other writers; subscriptions happen during boot.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish stamps id, timestamp and sequence, then hands the event to
// every subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	b.seq++
	evt.Seq = b.seq
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	for _, sub := range subs {
		sub.Notify(evt)
	}
	b.logger.Debug("event published",
		slog.String("kind", string(evt.Kind)),
		slog.String("family", evt.Family),
		slog.String("entity_id", evt.EntityID),
		slog.Uint64("seq", evt.Seq))
}
