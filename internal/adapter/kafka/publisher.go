package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// Publisher implements domain.EventPublisher on the events topic. Records
// are keyed by request id so one request's events stay in order.
type Publisher struct {
	producer Producer
	topic    string
}

// NewPublisher creates an event publisher.
func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish implements domain.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event *domain.Event) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.RequestID.String()),
		Value: event.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event-id", Value: []byte(event.ID.String())},
			{Key: "event-kind", Value: []byte(event.Kind)},
			{Key: "content-type", Value: []byte("application/cbor")},
		},
		Timestamp: event.CreatedAt,
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish %s event %s: %w", event.Kind, event.ID, err)
	}
	return nil
}
