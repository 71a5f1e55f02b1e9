package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// EventPublisher subscribes to the in-process event bus and hands each
// committed event to the queue. Enqueue failures are logged and
// dropped; the nightly warmup rebuilds anything a lost event left
// stale.
type EventPublisher struct {
	client *Client
	logger *slog.Logger
}

// NewEventPublisher constructs a bus subscriber backed by the queue.
func NewEventPublisher(client *Client, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{client: client, logger: logger}
}

// Notify implements shared.Subscriber.
func (p *EventPublisher) Notify(evt shared.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.client.EnqueueEvent(ctx, evt); err != nil {
		p.logger.Warn("enqueue event fanout",
			slog.String("family", evt.Family),
			slog.String("entity_id", evt.EntityID),
			slog.Any("error", err))
	}
}
