package notification

import (
	"context"
	"log/slog"
)

// Publisher hands events to the delivery collaborator
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// JSONPublisher is satisfied by mq.Publisher
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key, messageID string, v any) error
}

// BrokerPublisher routes events by type onto a message broker
type BrokerPublisher struct {
	pub JSONPublisher
}

func NewBrokerPublisher(pub JSONPublisher) *BrokerPublisher {
	return &BrokerPublisher{pub: pub}
}

func (p *BrokerPublisher) Publish(ctx context.Context, e Event) error {
	return p.pub.PublishJSON(ctx, string(e.Type), e.ID, e)
}

// LogPublisher only logs events; used when no broker is configured
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.InfoContext(ctx, "notification event",
		"event_id", e.ID,
		"type", e.Type,
		"recipient_id", e.RecipientID,
		"booking_id", e.BookingID,
	)
	return nil
}
