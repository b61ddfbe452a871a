package inbox

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// EventHandler processes one decoded envelope inside the guard's
// transaction.
type EventHandler func(ctx context.Context, tx *ledger.Tx, env domain.Envelope) (string, error)

// Consumer is a Kafka reader loop with the idempotency guard around every
// handler call. Handlers are registered per event type; unregistered types
// are skipped. The offset is committed only after the guard returns, so a
// crash mid-handler replays the event and the guard makes the replay a
// no-op.
type Consumer struct {
	name     string
	reader   *kafka.Reader
	guard    *Guard
	handlers map[string]EventHandler
}

// NewConsumer builds a consumer named name reading topic in the given
// consumer group. The name is the idempotency scope: two consumers with
// different names each process every event once.
func NewConsumer(name string, brokers []string, topic, groupID string, guard *Guard) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return &Consumer{
		name:     name,
		reader:   reader,
		guard:    guard,
		handlers: make(map[string]EventHandler),
	}
}

// Handle registers the handler for an event type. Not safe to call after
// Run has started.
func (c *Consumer) Handle(eventType string, h EventHandler) {
	c.handlers[eventType] = h
}

// Run consumes until the context is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			slog.ErrorContext(ctx, "closing kafka reader failed",
				slog.String("consumer", c.name), slog.String("error", err.Error()))
		}
	}()

	slog.InfoContext(ctx, "consumer started", slog.String("consumer", c.name))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.InfoContext(ctx, "consumer stopped", slog.String("consumer", c.name))
				return
			}
			slog.ErrorContext(ctx, "fetch failed",
				slog.String("consumer", c.name), slog.String("error", err.Error()))
			continue
		}
		c.process(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "offset commit failed",
				slog.String("consumer", c.name), slog.String("error", err.Error()))
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	var env domain.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		slog.WarnContext(ctx, "malformed message skipped",
			slog.String("consumer", c.name),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
		return
	}
	handler, ok := c.handlers[env.EventType]
	if !ok {
		return
	}

	ctx = telemetry.WithCorrelationID(ctx, env.CorrelationID)
	_, _, err := c.guard.Execute(ctx, env.EventID, c.name, func(ctx context.Context, tx *ledger.Tx) (string, error) {
		return handler(ctx, tx, env)
	})
	if err != nil {
		slog.ErrorContext(ctx, "event processing failed",
			slog.String("consumer", c.name),
			slog.String("event_id", env.EventID),
			slog.String("event_type", env.EventType),
			slog.String("error", err.Error()))
	}
}
