package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

// InsertOutboxEvent writes an event row in the caller's transaction. This
// is the only write path into the outbox besides the relay's own status
// updates: if the business mutation rolls back, so does the event.
func (t *Tx) InsertOutboxEvent(ctx context.Context, e *domain.OutboxEvent) error {
	const q = `INSERT INTO outbox_events
        (id, event_id, event_type, event_version, event_domain, topic, routing_key, payload,
         correlation_id, causation_id, parent_event_id,
         status, attempts, max_attempts, next_attempt_at,
         occurred_at, created_at, published_at, failed_at, error_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	if _, err := t.tx.ExecContext(ctx, q,
		e.ID, e.EventID, e.EventType, e.EventVersion, e.EventDomain, e.Topic, e.RoutingKey, string(e.Payload),
		e.CorrelationID, e.CausationID, e.ParentEventID,
		string(e.Status), e.Attempts, e.MaxAttempts, t.dialect.bindTime(e.NextAttemptAt),
		t.dialect.bindTime(e.OccurredAt), t.dialect.bindTime(e.CreatedAt),
		t.dialect.bindTimePtr(e.PublishedAt), t.dialect.bindTimePtr(e.FailedAt), e.ErrorMessage,
	); err != nil {
		return fmt.Errorf("ledger: insert outbox event %q: %w", e.EventID, err)
	}
	return nil
}

const outboxColumns = `id, event_id, event_type, event_version, event_domain, topic, routing_key, payload,
        correlation_id, causation_id, parent_event_id,
        status, attempts, max_attempts, next_attempt_at,
        occurred_at, created_at, published_at, failed_at, error_message`

func scanOutboxEvent(sc rowScanner) (*domain.OutboxEvent, error) {
	var (
		e             domain.OutboxEvent
		payload       []byte
		status        string
		nextAttemptAt dbTime
		occurredAt    dbTime
		createdAt     dbTime
		publishedAt   dbTime
		failedAt      dbTime
	)
	if err := sc.Scan(
		&e.ID, &e.EventID, &e.EventType, &e.EventVersion, &e.EventDomain, &e.Topic, &e.RoutingKey, &payload,
		&e.CorrelationID, &e.CausationID, &e.ParentEventID,
		&status, &e.Attempts, &e.MaxAttempts, &nextAttemptAt,
		&occurredAt, &createdAt, &publishedAt, &failedAt, &e.ErrorMessage,
	); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.Status = domain.OutboxStatus(status)
	e.NextAttemptAt = nextAttemptAt.Time()
	e.OccurredAt = occurredAt.Time()
	e.CreatedAt = createdAt.Time()
	e.PublishedAt = publishedAt.TimePtr()
	e.FailedAt = failedAt.TimePtr()
	return &e, nil
}

// DueOutboxEvents lists pending rows whose next attempt is due, oldest
// first. The listing itself claims nothing; each row still has to win
// ClaimOutboxEvent before it may be published.
func (s *Store) DueOutboxEvents(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox_events
        WHERE status = 'pending' AND next_attempt_at <= $1
        ORDER BY next_attempt_at, created_at LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, s.dialect.bindTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list due outbox events: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan outbox event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate outbox events: %w", err)
	}
	return out, nil
}

// ClaimOutboxEvent flips one row from pending to processing, stamping
// next_attempt_at with the claim time. A false return means another relay
// instance won the row; skip it.
func (s *Store) ClaimOutboxEvent(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE outbox_events SET status = 'processing', next_attempt_at = $1
        WHERE id = $2 AND status = 'pending'`
	res, err := s.db.ExecContext(ctx, q, s.dialect.bindTime(at), id)
	if err != nil {
		return false, fmt.Errorf("ledger: claim outbox event %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: claim outbox event %q: %w", id, err)
	}
	return n == 1, nil
}

// RequeueStaleClaims returns processing rows claimed before cutoff to
// pending. A relay that dies between claiming and the status update leaves
// its rows in processing, where the dispatch scan never sees them again;
// the next healthy pass requeues them. The claim stamp doubles as the due
// time, so a requeued row is picked up immediately.
func (s *Store) RequeueStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE outbox_events SET status = 'pending'
        WHERE status = 'processing' AND next_attempt_at <= $1`
	res, err := s.db.ExecContext(ctx, q, s.dialect.bindTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("ledger: requeue stale outbox claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: requeue stale outbox claims: %w", err)
	}
	return n, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE outbox_events SET status = 'published', published_at = $1, error_message = '' WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, q, s.dialect.bindTime(at), id); err != nil {
		return fmt.Errorf("ledger: mark outbox event %q published: %w", id, err)
	}
	return nil
}

// RescheduleOutboxEvent returns a row to pending after a failed publish,
// recording the attempt count, the next due time and the error.
func (s *Store) RescheduleOutboxEvent(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, errMsg string) error {
	const q = `UPDATE outbox_events
        SET status = 'pending', attempts = $1, next_attempt_at = $2, error_message = $3
        WHERE id = $4`
	if _, err := s.db.ExecContext(ctx, q, attempts, s.dialect.bindTime(nextAttemptAt), errMsg, id); err != nil {
		return fmt.Errorf("ledger: reschedule outbox event %q: %w", id, err)
	}
	return nil
}

// MarkOutboxFailed parks a row after its retry budget is spent. Failed rows
// stay queryable for the audit surface and for manual replay.
func (s *Store) MarkOutboxFailed(ctx context.Context, id string, attempts int, errMsg string, at time.Time) error {
	const q = `UPDATE outbox_events
        SET status = 'failed', attempts = $1, failed_at = $2, error_message = $3
        WHERE id = $4`
	if _, err := s.db.ExecContext(ctx, q, attempts, s.dialect.bindTime(at), errMsg, id); err != nil {
		return fmt.Errorf("ledger: mark outbox event %q failed: %w", id, err)
	}
	return nil
}

// MarkOutboxDiscarded parks a row that can never publish, for example when
// its payload no longer unmarshals. Discarded rows are excluded from the
// dispatch scan but kept for audit.
func (s *Store) MarkOutboxDiscarded(ctx context.Context, id string, attempts int, errMsg string, at time.Time) error {
	const q = `UPDATE outbox_events
        SET status = 'discarded', attempts = $1, failed_at = $2, error_message = $3
        WHERE id = $4`
	if _, err := s.db.ExecContext(ctx, q, attempts, s.dialect.bindTime(at), errMsg, id); err != nil {
		return fmt.Errorf("ledger: mark outbox event %q discarded: %w", id, err)
	}
	return nil
}

func (s *Store) OutboxEventByEventID(ctx context.Context, eventID string) (*domain.OutboxEvent, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox_events WHERE event_id = $1`
	e, err := scanOutboxEvent(s.db.QueryRowContext(ctx, q, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load outbox event %q: %w", eventID, err)
	}
	return e, nil
}

// OutboxEventsByCorrelation lists a workflow's events in occurrence order.
func (s *Store) OutboxEventsByCorrelation(ctx context.Context, correlationID string) ([]domain.OutboxEvent, error) {
	q := `SELECT ` + outboxColumns + ` FROM outbox_events
        WHERE correlation_id = $1 ORDER BY occurred_at, created_at`
	rows, err := s.db.QueryContext(ctx, q, correlationID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list outbox events for correlation %q: %w", correlationID, err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan outbox event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate outbox events: %w", err)
	}
	return out, nil
}

// OutboxBacklog counts rows still waiting to publish.
func (s *Store) OutboxBacklog(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM outbox_events WHERE status IN ('pending', 'processing')`
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count outbox backlog: %w", err)
	}
	return n, nil
}
