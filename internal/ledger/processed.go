package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

const processedColumns = `event_id, consumer_name, status, result, error_message, processing_duration_ms, processed_at`

func scanProcessedEvent(sc rowScanner) (*domain.ProcessedEvent, error) {
	var (
		p           domain.ProcessedEvent
		status      string
		processedAt dbTime
	)
	if err := sc.Scan(&p.EventID, &p.ConsumerName, &status, &p.Result, &p.ErrorMessage, &p.ProcessingDurationMs, &processedAt); err != nil {
		return nil, err
	}
	p.Status = domain.ProcessedStatus(status)
	p.ProcessedAt = processedAt.Time()
	return &p, nil
}

// ProcessedEvent looks up the idempotency record for one event and
// consumer inside the caller's transaction.
func (t *Tx) ProcessedEvent(ctx context.Context, eventID, consumerName string) (*domain.ProcessedEvent, error) {
	q := `SELECT ` + processedColumns + ` FROM processed_events
        WHERE event_id = $1 AND consumer_name = $2`
	p, err := scanProcessedEvent(t.tx.QueryRowContext(ctx, q, eventID, consumerName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load processed event %q/%q: %w", eventID, consumerName, err)
	}
	return p, nil
}

// InsertProcessedEvent records a completed handler run in the same
// transaction as the handler's own writes. The composite primary key is
// what turns a concurrent duplicate into a constraint error instead of a
// double effect.
func (t *Tx) InsertProcessedEvent(ctx context.Context, p *domain.ProcessedEvent) error {
	const q = `INSERT INTO processed_events
        (event_id, consumer_name, status, result, error_message, processing_duration_ms, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := t.tx.ExecContext(ctx, q,
		p.EventID, p.ConsumerName, string(p.Status), p.Result, p.ErrorMessage,
		p.ProcessingDurationMs, t.dialect.bindTime(p.ProcessedAt),
	); err != nil {
		return fmt.Errorf("ledger: insert processed event %q/%q: %w", p.EventID, p.ConsumerName, err)
	}
	return nil
}

// ReplaceFailedProcessedEvent overwrites a prior failed row with the
// outcome of a reprocessing run, inside the handler's transaction. Zero
// rows affected means another worker completed the event concurrently;
// the caller must roll back so redelivery sees that row instead.
func (t *Tx) ReplaceFailedProcessedEvent(ctx context.Context, p *domain.ProcessedEvent) error {
	const q = `UPDATE processed_events
        SET status = $1, result = $2, error_message = $3, processing_duration_ms = $4, processed_at = $5
        WHERE event_id = $6 AND consumer_name = $7 AND status = 'failed'`
	res, err := t.tx.ExecContext(ctx, q,
		string(p.Status), p.Result, p.ErrorMessage, p.ProcessingDurationMs,
		t.dialect.bindTime(p.ProcessedAt), p.EventID, p.ConsumerName,
	)
	if err != nil {
		return fmt.Errorf("ledger: replace failed processed event %q/%q: %w", p.EventID, p.ConsumerName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: replace failed processed event %q/%q: %w", p.EventID, p.ConsumerName, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertProcessedFailure records a failed handler run. It runs outside the
// handler's transaction (which has already rolled back) and overwrites any
// earlier failed row so the record reflects the latest attempt. It never
// overwrites a completed row.
func (s *Store) UpsertProcessedFailure(ctx context.Context, p *domain.ProcessedEvent) error {
	const q = `INSERT INTO processed_events
        (event_id, consumer_name, status, result, error_message, processing_duration_ms, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (event_id, consumer_name) DO UPDATE SET
            status = excluded.status,
            error_message = excluded.error_message,
            processing_duration_ms = excluded.processing_duration_ms,
            processed_at = excluded.processed_at
        WHERE processed_events.status = 'failed'`
	if _, err := s.db.ExecContext(ctx, q,
		p.EventID, p.ConsumerName, string(p.Status), p.Result, p.ErrorMessage,
		p.ProcessingDurationMs, s.dialect.bindTime(p.ProcessedAt),
	); err != nil {
		return fmt.Errorf("ledger: record processing failure %q/%q: %w", p.EventID, p.ConsumerName, err)
	}
	return nil
}

// ProcessedEventsByEventID lists every consumer's record for one event,
// for the audit surface.
func (s *Store) ProcessedEventsByEventID(ctx context.Context, eventID string) ([]domain.ProcessedEvent, error) {
	q := `SELECT ` + processedColumns + ` FROM processed_events
        WHERE event_id = $1 ORDER BY consumer_name`
	rows, err := s.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list processed events for %q: %w", eventID, err)
	}
	defer rows.Close()

	var out []domain.ProcessedEvent
	for rows.Next() {
		p, err := scanProcessedEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan processed event: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate processed events: %w", err)
	}
	return out, nil
}
