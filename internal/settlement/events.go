package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// Broker topics, one per event domain.
const (
	TopicOrders = "settlement.orders"
	TopicCredit = "settlement.credit"
)

// enqueue writes an outbox row in the caller's transaction and returns it.
// The row commits or rolls back together with the business mutation.
func enqueue(ctx context.Context, tx *ledger.Tx, corr domain.Correlation, eventType string, payload any, now time.Time) (*domain.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("settlement: marshal %s payload: %w", eventType, err)
	}
	eventDomain := domain.EventDomainOrders
	topic := TopicOrders
	if strings.HasPrefix(eventType, "credit.") {
		eventDomain = domain.EventDomainCredit
		topic = TopicCredit
	}
	e := &domain.OutboxEvent{
		ID:            uuid.NewString(),
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  domain.EventVersion,
		EventDomain:   eventDomain,
		Topic:         topic,
		RoutingKey:    eventType,
		Payload:       body,
		CorrelationID: corr.CorrelationID,
		CausationID:   corr.CausationID,
		ParentEventID: corr.ParentEventID,
		Status:        domain.OutboxPending,
		MaxAttempts:   domain.DefaultMaxPublishAttempts,
		NextAttemptAt: now,
		OccurredAt:    now,
		CreatedAt:     now,
	}
	if err := tx.InsertOutboxEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// workflowCorrelation resolves the correlation for an operation: an
// explicit non-zero value wins, then the workflow already active on the
// context, then a fresh chain.
func workflowCorrelation(ctx context.Context, explicit domain.Correlation) domain.Correlation {
	if explicit.CorrelationID != "" {
		return explicit
	}
	if id := telemetry.CorrelationIDFromContext(ctx); id != "" {
		return domain.Correlation{CorrelationID: id}
	}
	return domain.NewCorrelation()
}
