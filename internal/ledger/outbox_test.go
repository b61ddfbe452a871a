package ledger_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
)

func testEvent(correlationID string, at time.Time) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            uuid.NewString(),
		EventID:       uuid.NewString(),
		EventType:     domain.EventOrderCreated,
		EventVersion:  domain.EventVersion,
		EventDomain:   domain.EventDomainOrders,
		Topic:         "settlement.orders",
		RoutingKey:    domain.EventOrderCreated,
		Payload:       json.RawMessage(`{"order_id":"order-1"}`),
		CorrelationID: correlationID,
		Status:        domain.OutboxPending,
		MaxAttempts:   domain.DefaultMaxPublishAttempts,
		NextAttemptAt: at,
		OccurredAt:    at,
		CreatedAt:     at,
	}
}

func insertEvent(t *testing.T, store *ledger.Store, e *domain.OutboxEvent) {
	t.Helper()
	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertOutboxEvent(context.Background(), e))
	})
}

func TestOutboxDueListing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := testEvent("corr-1", now.Add(-time.Second))
	future := testEvent("corr-1", now.Add(time.Hour))
	insertEvent(t, store, due)
	insertEvent(t, store, future)

	events, err := store.DueOutboxEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, due.ID, events[0].ID)
	require.Equal(t, domain.EventOrderCreated, events[0].EventType)
	require.JSONEq(t, `{"order_id":"order-1"}`, string(events[0].Payload))
}

func TestClaimOutboxEvent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := testEvent("corr-1", now.Add(-time.Second))
	insertEvent(t, store, e)

	claimed, err := store.ClaimOutboxEvent(ctx, e.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	// A second claim loses: the row is already processing.
	claimed, err = store.ClaimOutboxEvent(ctx, e.ID, now)
	require.NoError(t, err)
	require.False(t, claimed)

	events, err := store.DueOutboxEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRequeueStaleClaims(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testEvent("corr-1", now.Add(-time.Hour))
	fresh := testEvent("corr-1", now.Add(-time.Hour))
	insertEvent(t, store, stale)
	insertEvent(t, store, fresh)

	claimed, err := store.ClaimOutboxEvent(ctx, stale.ID, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = store.ClaimOutboxEvent(ctx, fresh.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := store.RequeueStaleClaims(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Only the abandoned claim is due again; the live one keeps its row.
	events, err := store.DueOutboxEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, stale.ID, events[0].ID)

	got, err := store.OutboxEventByEventID(ctx, fresh.EventID)
	require.NoError(t, err)
	require.Equal(t, domain.OutboxProcessing, got.Status)
}

func TestMarkOutboxPublished(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := testEvent("corr-1", now.Add(-time.Second))
	insertEvent(t, store, e)

	claimed, err := store.ClaimOutboxEvent(ctx, e.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.MarkOutboxPublished(ctx, e.ID, now))

	got, err := store.OutboxEventByEventID(ctx, e.EventID)
	require.NoError(t, err)
	require.Equal(t, domain.OutboxPublished, got.Status)
	require.NotNil(t, got.PublishedAt)
	require.WithinDuration(t, now, *got.PublishedAt, time.Millisecond)
	require.Nil(t, got.FailedAt)
}

func TestRescheduleOutboxEvent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := testEvent("corr-1", now.Add(-time.Second))
	insertEvent(t, store, e)

	_, err := store.ClaimOutboxEvent(ctx, e.ID, now)
	require.NoError(t, err)

	retryAt := now.Add(30 * time.Second)
	require.NoError(t, store.RescheduleOutboxEvent(ctx, e.ID, 1, retryAt, "broker unreachable"))

	events, err := store.DueOutboxEvents(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = store.DueOutboxEvents(ctx, retryAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].Attempts)
	require.Equal(t, "broker unreachable", events[0].ErrorMessage)
}

func TestMarkOutboxFailedAndDiscarded(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	failed := testEvent("corr-1", now.Add(-time.Second))
	discarded := testEvent("corr-1", now.Add(-time.Second))
	insertEvent(t, store, failed)
	insertEvent(t, store, discarded)

	require.NoError(t, store.MarkOutboxFailed(ctx, failed.ID, 5, "gave up", now))
	require.NoError(t, store.MarkOutboxDiscarded(ctx, discarded.ID, 5, "non-critical", now))

	got, err := store.OutboxEventByEventID(ctx, failed.EventID)
	require.NoError(t, err)
	require.Equal(t, domain.OutboxFailed, got.Status)
	require.Equal(t, 5, got.Attempts)
	require.Equal(t, "gave up", got.ErrorMessage)
	require.NotNil(t, got.FailedAt)

	got, err = store.OutboxEventByEventID(ctx, discarded.EventID)
	require.NoError(t, err)
	require.Equal(t, domain.OutboxDiscarded, got.Status)

	// Neither is due anymore.
	events, err := store.DueOutboxEvents(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestOutboxEventsByCorrelation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	second := testEvent("corr-1", now)
	first := testEvent("corr-1", now.Add(-time.Minute))
	other := testEvent("corr-2", now)
	insertEvent(t, store, second)
	insertEvent(t, store, first)
	insertEvent(t, store, other)

	events, err := store.OutboxEventsByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, first.EventID, events[0].EventID)
	require.Equal(t, second.EventID, events[1].EventID)

	_, err = store.OutboxEventByEventID(ctx, "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOutboxBacklog(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := testEvent("corr-1", now)
	published := testEvent("corr-1", now)
	insertEvent(t, store, pending)
	insertEvent(t, store, published)
	require.NoError(t, store.MarkOutboxPublished(ctx, published.ID, now))

	n, err := store.OutboxBacklog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestProcessedEventLedger(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	completed := &domain.ProcessedEvent{
		EventID:              "evt-1",
		ConsumerName:         "creditview",
		Status:               domain.ProcessedCompleted,
		Result:               "invalidated cust-1",
		ProcessingDurationMs: 12,
		ProcessedAt:          now,
	}

	inTx(t, store, func(tx *ledger.Tx) {
		_, err := tx.ProcessedEvent(ctx, "evt-1", "creditview")
		require.ErrorIs(t, err, ledger.ErrNotFound)
		require.NoError(t, tx.InsertProcessedEvent(ctx, completed))
	})

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.ProcessedEvent(ctx, "evt-1", "creditview")
		require.NoError(t, err)
		require.Equal(t, domain.ProcessedCompleted, got.Status)
		require.Equal(t, "invalidated cust-1", got.Result)
	})

	// The (event_id, consumer_name) key rejects a second insert.
	tx, err := store.Begin(ctx, ledger.IsolationDefault)
	require.NoError(t, err)
	require.Error(t, tx.InsertProcessedEvent(ctx, completed))
	require.NoError(t, tx.Rollback())

	// Another consumer processing the same event is a distinct row.
	inTx(t, store, func(tx *ledger.Tx) {
		other := *completed
		other.ConsumerName = "analytics"
		require.NoError(t, tx.InsertProcessedEvent(ctx, &other))
	})

	rows, err := store.ProcessedEventsByEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestProcessedFailureNeverOverwritesCompleted(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertProcessedEvent(ctx, &domain.ProcessedEvent{
			EventID: "evt-1", ConsumerName: "creditview",
			Status: domain.ProcessedCompleted, Result: "done", ProcessedAt: now,
		}))
	})

	require.NoError(t, store.UpsertProcessedFailure(ctx, &domain.ProcessedEvent{
		EventID: "evt-1", ConsumerName: "creditview",
		Status: domain.ProcessedFailed, ErrorMessage: "late failure", ProcessedAt: now,
	}))

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.ProcessedEvent(ctx, "evt-1", "creditview")
		require.NoError(t, err)
		require.Equal(t, domain.ProcessedCompleted, got.Status)
		require.Equal(t, "done", got.Result)
	})
}

func TestReplaceFailedProcessedEvent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertProcessedFailure(ctx, &domain.ProcessedEvent{
		EventID: "evt-1", ConsumerName: "creditview",
		Status: domain.ProcessedFailed, ErrorMessage: "first try failed", ProcessedAt: now,
	}))

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.ReplaceFailedProcessedEvent(ctx, &domain.ProcessedEvent{
			EventID: "evt-1", ConsumerName: "creditview",
			Status: domain.ProcessedCompleted, Result: "second try worked", ProcessedAt: now.Add(time.Second),
		}))
	})

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.ProcessedEvent(ctx, "evt-1", "creditview")
		require.NoError(t, err)
		require.Equal(t, domain.ProcessedCompleted, got.Status)
		require.Equal(t, "second try worked", got.Result)
		require.Empty(t, got.ErrorMessage)
	})

	// Replacing a completed row is refused; the guard rolls back on this.
	tx, err := store.Begin(ctx, ledger.IsolationDefault)
	require.NoError(t, err)
	err = tx.ReplaceFailedProcessedEvent(ctx, &domain.ProcessedEvent{
		EventID: "evt-1", ConsumerName: "creditview",
		Status: domain.ProcessedCompleted, Result: "third try", ProcessedAt: now,
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, tx.Rollback())
}
