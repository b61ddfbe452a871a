// Event types for the transactional outbox and the consumer-side
// processed-event ledger.
//
// An OutboxEvent row is written in the same database transaction as the
// business mutation it describes, so either both commit or neither does.
// The relay publishes committed rows asynchronously; consumers record an
// entry in the processed-event ledger so redelivery over an at-least-once
// transport stays a no-op. Together the two tables form an auditable trail
// proving exactly-once effective processing.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the settlement core.
const (
	EventOrderCreated    = "order.created"
	EventOrderConfirmed  = "order.confirmed"
	EventOrderCancelled  = "order.cancelled"
	EventOrderFulfilling = "order.fulfilling"
	EventOrderFulfilled  = "order.fulfilled"
	EventCreditReserved  = "credit.reserved"
	EventCreditCaptured  = "credit.captured"
	EventCreditReleased  = "credit.released"
	EventCreditRefunded  = "credit.refunded"
)

// Event domains, used by consumers to subscribe by area.
const (
	EventDomainOrders = "orders"
	EventDomainCredit = "credit"
)

// EventVersion is the envelope schema version consumers can rely on.
const EventVersion = "1.0"

// Correlation links the events of one business workflow.
//
// CorrelationID groups every event of the workflow; CausationID is the
// event that directly triggered this one; ParentEventID is the workflow's
// root event. Walking CausationID from any event must terminate at the
// root without cycles.
type Correlation struct {
	CorrelationID string
	CausationID   string
	ParentEventID string
}

// NewCorrelation starts a fresh workflow chain.
func NewCorrelation() Correlation {
	return Correlation{CorrelationID: uuid.NewString()}
}

// Child derives the correlation for an event caused by the given event ID.
func (c Correlation) Child(causeEventID string) Correlation {
	parent := c.ParentEventID
	if parent == "" {
		parent = causeEventID
	}
	return Correlation{
		CorrelationID: c.CorrelationID,
		CausationID:   causeEventID,
		ParentEventID: parent,
	}
}

// Envelope is the published wire format. Consumers may rely on every field
// being present; Payload is the event-type-specific JSON body.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  string          `json:"event_version"`
	EventDomain   string          `json:"event_domain"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// OutboxStatus is the relay-side lifecycle of an event row.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPublished  OutboxStatus = "published"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDiscarded  OutboxStatus = "discarded"
)

// DefaultMaxPublishAttempts bounds relay retries before an event is parked
// as failed (or discarded, for non-critical types).
const DefaultMaxPublishAttempts = 5

// OutboxEvent is one row of the transactional outbox. The business
// transaction writes it once; afterwards only the relay touches it.
type OutboxEvent struct {
	ID            string
	EventID       string
	EventType     string
	EventVersion  string
	EventDomain   string
	Topic         string
	RoutingKey    string
	Payload       json.RawMessage
	CorrelationID string
	CausationID   string
	ParentEventID string
	Status        OutboxStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	OccurredAt    time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
	FailedAt      *time.Time
	ErrorMessage  string
}

// Envelope builds the published wire form of the row.
func (e *OutboxEvent) Envelope() Envelope {
	return Envelope{
		EventID:       e.EventID,
		EventType:     e.EventType,
		EventVersion:  e.EventVersion,
		EventDomain:   e.EventDomain,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		OccurredAt:    e.OccurredAt,
		Payload:       e.Payload,
	}
}

// ProcessedStatus is the terminal state a consumer recorded for an event.
type ProcessedStatus string

const (
	ProcessedCompleted ProcessedStatus = "completed"
	ProcessedFailed    ProcessedStatus = "failed"
)

// ProcessedEvent is the consumer-side idempotency record, keyed by
// (EventID, ConsumerName). A completed row short-circuits redelivery and
// returns the stored result; a failed row documents the attempt but does
// not block reprocessing.
type ProcessedEvent struct {
	EventID              string
	ConsumerName         string
	Status               ProcessedStatus
	Result               string
	ErrorMessage         string
	ProcessingDurationMs int64
	ProcessedAt          time.Time
}
