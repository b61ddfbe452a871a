// Package inbox gives consumers exactly-once effective processing on top
// of an at-least-once transport.
//
// The guard wraps a handler in a ledger transaction together with a
// processed-event record keyed by (eventID, consumerName). A redelivered
// event finds the completed record and returns its stored result without
// re-running the handler; a concurrent duplicate loses the primary-key
// race and rolls back its side effects entirely.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/txmanager"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// HandlerFunc does the consumer's work inside the guard's transaction and
// returns a result string stored alongside the idempotency record.
type HandlerFunc func(ctx context.Context, tx *ledger.Tx) (string, error)

// Guard is the processed-event ledger front. One Guard serves any number
// of consumers; the consumer name is part of the idempotency key.
type Guard struct {
	tm      *txmanager.Manager
	metrics *telemetry.Metrics
}

func NewGuard(tm *txmanager.Manager, metrics *telemetry.Metrics) *Guard {
	return &Guard{tm: tm, metrics: metrics}
}

// Execute runs fn exactly once per (eventID, consumerName).
//
// A prior completed record short-circuits: fn is skipped and the stored
// result returned with duplicate=true. Otherwise fn's writes and the
// completed record commit atomically. When fn fails, the transaction rolls
// back and the failure is recorded in a separate transaction; a failed
// record never blocks a later retry.
func (g *Guard) Execute(ctx context.Context, eventID, consumerName string, fn HandlerFunc) (result string, duplicate bool, err error) {
	start := time.Now()
	err = g.tm.Run(ctx, txmanager.Options{Label: "consume_" + consumerName}, func(ctx context.Context, tx *ledger.Tx) error {
		prior, err := tx.ProcessedEvent(ctx, eventID, consumerName)
		retryAfterFailure := false
		switch {
		case err == nil && prior.Status == domain.ProcessedCompleted:
			result = prior.Result
			duplicate = true
			return nil
		case err == nil:
			retryAfterFailure = true
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		out, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		record := &domain.ProcessedEvent{
			EventID:              eventID,
			ConsumerName:         consumerName,
			Status:               domain.ProcessedCompleted,
			Result:               out,
			ProcessingDurationMs: time.Since(start).Milliseconds(),
			ProcessedAt:          time.Now().UTC(),
		}
		if retryAfterFailure {
			// The failed row must still be there; zero rows means a
			// concurrent worker completed the event, so roll back.
			if err := tx.ReplaceFailedProcessedEvent(ctx, record); err != nil {
				return err
			}
		} else if err := tx.InsertProcessedEvent(ctx, record); err != nil {
			// A primary-key violation here is the concurrent-duplicate
			// case: the other worker's record committed first and this
			// rollback takes the handler's side effects with it.
			return err
		}
		result = out
		return nil
	})

	switch {
	case err == nil && duplicate:
		g.metrics.RecordInboxDuplicate(consumerName)
		slog.InfoContext(ctx, "duplicate event skipped",
			slog.String("event_id", eventID),
			slog.String("consumer", consumerName))
	case err == nil:
		g.metrics.RecordInboxEvent(consumerName, "completed")
	default:
		g.metrics.RecordInboxEvent(consumerName, "failed")
		failure := &domain.ProcessedEvent{
			EventID:              eventID,
			ConsumerName:         consumerName,
			Status:               domain.ProcessedFailed,
			ErrorMessage:         err.Error(),
			ProcessingDurationMs: time.Since(start).Milliseconds(),
			ProcessedAt:          time.Now().UTC(),
		}
		if recErr := g.tm.Store().UpsertProcessedFailure(ctx, failure); recErr != nil {
			slog.ErrorContext(ctx, "recording processing failure failed",
				slog.String("event_id", eventID),
				slog.String("consumer", consumerName),
				slog.String("error", recErr.Error()))
		}
	}
	return result, duplicate, err
}
