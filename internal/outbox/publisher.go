// internal/outbox/publisher.go
package outbox

import (
	"context"
	"log/slog"

	"finthos-payments/internal/domain"
)

// Publisher delivers one outbox event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, event domain.OutboxEvent) error
	Close() error
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "outbox")}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	p.logger.Info("event",
		"event_id", event.ID, "event_type", event.EventType, "aggregate_id", event.AggregateID, "payload", string(event.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
