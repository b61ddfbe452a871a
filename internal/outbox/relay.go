// Package outbox publishes committed event rows to the broker.
//
// The relay polls the outbox table for due pending rows, claims each with
// a conditional status update and publishes the envelope. Claiming makes
// concurrent relay instances safe: a claim that affects zero rows means
// another instance won, and the row is skipped. A claim abandoned by a
// crashed instance goes back to pending once it turns stale, so every
// committed row eventually publishes or parks. Failed publishes are
// rescheduled with exponential backoff until the row's attempt budget is
// spent, then parked as failed (or discarded, for event types registered
// as non-critical) without ever blocking new business transactions.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// Publisher delivers one envelope to the broker.
type Publisher interface {
	Publish(ctx context.Context, env domain.Envelope, topic, key string) error
}

// Config tunes the relay loop. Zero values take the defaults.
type Config struct {
	// PollInterval between dispatch scans. Default 1s.
	PollInterval time.Duration
	// BatchSize caps rows handled per scan. Default 50.
	BatchSize int
	// BackoffBase is the delay after the first failed publish; it doubles
	// per attempt. Default 30s.
	BackoffBase time.Duration
	// BackoffCap bounds the backoff delay. Default 10m.
	BackoffCap time.Duration
	// StaleClaimAfter is how long a row may sit in processing before it is
	// treated as abandoned by a dead relay instance and returned to
	// pending. Must exceed the longest plausible publish call. Default 5m.
	StaleClaimAfter time.Duration
	// NonCritical lists event types parked as discarded instead of failed
	// when the attempt budget is spent.
	NonCritical []string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Minute
	}
	if c.StaleClaimAfter <= 0 {
		c.StaleClaimAfter = 5 * time.Minute
	}
	return c
}

// Relay moves committed outbox rows to the broker.
type Relay struct {
	store       *ledger.Store
	publisher   Publisher
	metrics     *telemetry.Metrics
	cfg         Config
	nonCritical map[string]bool
}

func NewRelay(store *ledger.Store, publisher Publisher, metrics *telemetry.Metrics, cfg Config) *Relay {
	cfg = cfg.withDefaults()
	nonCritical := make(map[string]bool, len(cfg.NonCritical))
	for _, t := range cfg.NonCritical {
		nonCritical[t] = true
	}
	return &Relay{store: store, publisher: publisher, metrics: metrics, cfg: cfg, nonCritical: nonCritical}
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "outbox relay started",
		slog.Duration("poll_interval", r.cfg.PollInterval),
		slog.Int("batch_size", r.cfg.BatchSize))
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.DispatchOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "outbox dispatch scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// DispatchOnce runs one scan-claim-publish pass and returns how many rows
// were published. Claims abandoned by a crashed instance are requeued
// first, so a committed event is never stranded in processing.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	requeued, err := r.store.RequeueStaleClaims(ctx, now.Add(-r.cfg.StaleClaimAfter))
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		slog.WarnContext(ctx, "requeued stale outbox claims", slog.Int64("count", requeued))
	}
	due, err := r.store.DueOutboxEvents(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	published := 0
	for i := range due {
		e := &due[i]
		claimed, err := r.store.ClaimOutboxEvent(ctx, e.ID, time.Now().UTC())
		if err != nil {
			slog.ErrorContext(ctx, "outbox claim failed",
				slog.String("event_id", e.EventID), slog.String("error", err.Error()))
			continue
		}
		if !claimed {
			continue
		}
		if r.dispatch(ctx, e) {
			published++
		}
	}
	if backlog, err := r.store.OutboxBacklog(ctx); err == nil {
		r.metrics.SetOutboxBacklog(backlog)
	}
	return published, nil
}

func (r *Relay) dispatch(ctx context.Context, e *domain.OutboxEvent) bool {
	start := time.Now()
	err := r.publisher.Publish(ctx, e.Envelope(), e.Topic, e.RoutingKey)
	now := time.Now().UTC()
	if err == nil {
		r.metrics.RecordPublished(time.Since(start))
		if err := r.store.MarkOutboxPublished(ctx, e.ID, now); err != nil {
			slog.ErrorContext(ctx, "outbox status update failed",
				slog.String("event_id", e.EventID), slog.String("error", err.Error()))
		}
		slog.DebugContext(ctx, "event published",
			slog.String("event_id", e.EventID),
			slog.String("event_type", e.EventType),
			slog.String("topic", e.Topic))
		return true
	}

	attempts := e.Attempts + 1
	if attempts >= e.MaxAttempts {
		if r.nonCritical[e.EventType] {
			r.metrics.RecordPublishDiscarded()
			if err := r.store.MarkOutboxDiscarded(ctx, e.ID, attempts, err.Error(), now); err != nil {
				slog.ErrorContext(ctx, "outbox status update failed",
					slog.String("event_id", e.EventID), slog.String("error", err.Error()))
			}
			slog.WarnContext(ctx, "event discarded after retries",
				slog.String("event_id", e.EventID),
				slog.String("event_type", e.EventType),
				slog.Int("attempts", attempts))
			return false
		}
		r.metrics.RecordPublishFailed()
		if err := r.store.MarkOutboxFailed(ctx, e.ID, attempts, err.Error(), now); err != nil {
			slog.ErrorContext(ctx, "outbox status update failed",
				slog.String("event_id", e.EventID), slog.String("error", err.Error()))
		}
		slog.ErrorContext(ctx, "event parked as failed",
			slog.String("event_id", e.EventID),
			slog.String("event_type", e.EventType),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return false
	}

	delay := r.backoffDelay(attempts)
	if err := r.store.RescheduleOutboxEvent(ctx, e.ID, attempts, now.Add(delay), err.Error()); err != nil {
		slog.ErrorContext(ctx, "outbox status update failed",
			slog.String("event_id", e.EventID), slog.String("error", err.Error()))
	}
	slog.WarnContext(ctx, "publish failed, rescheduled",
		slog.String("event_id", e.EventID),
		slog.String("event_type", e.EventType),
		slog.Int("attempt", attempts),
		slog.Duration("retry_in", delay),
		slog.String("error", err.Error()))
	return false
}

// backoffDelay doubles per attempt from the base, capped.
func (r *Relay) backoffDelay(attempts int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.BackoffCap {
			return r.cfg.BackoffCap
		}
	}
	if d > r.cfg.BackoffCap {
		return r.cfg.BackoffCap
	}
	return d
}
