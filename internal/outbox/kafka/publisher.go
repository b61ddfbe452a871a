// Package kafka publishes outbox envelopes to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

// Publisher writes envelopes with kafka-go. The message key is the routing
// key, so all events of one type land on one partition in order; headers
// carry the event type and correlation ID for broker-side filtering.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a synchronous, acks-all publisher for the given
// brokers. Topics come per message from the outbox row.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, env domain.Envelope, topic, key string) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kafka: marshal envelope %s: %w", env.EventID, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
			{Key: "correlation_id", Value: []byte(env.CorrelationID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s to %s: %w", env.EventID, topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
