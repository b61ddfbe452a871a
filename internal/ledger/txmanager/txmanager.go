// Package txmanager runs units of work against the ledger with commit,
// rollback and bounded retry handled in one place.
//
// A unit of work is a closure over a *ledger.Tx. The manager begins the
// transaction at the requested isolation, rolls back on error or panic and
// retries transient backend failures with jittered exponential backoff.
// Business errors pass through untouched on the first attempt.
package txmanager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// DefaultMaxRetries bounds how many times a transient failure is retried
// after the first attempt.
const DefaultMaxRetries = 3

// Options configures one unit of work.
type Options struct {
	// Label names the unit of work in logs and metrics.
	Label string
	// Isolation defaults to read committed.
	Isolation ledger.Isolation
	// MaxRetries defaults to DefaultMaxRetries; negative disables retries.
	MaxRetries int
}

// Manager owns the begin/commit/rollback/retry loop for a store.
type Manager struct {
	store   *ledger.Store
	metrics *telemetry.Metrics
}

func New(store *ledger.Store, metrics *telemetry.Metrics) *Manager {
	return &Manager{store: store, metrics: metrics}
}

// Store exposes the underlying store for read-only paths that do not need
// a transaction.
func (m *Manager) Store() *ledger.Store { return m.store }

// Run executes fn inside a transaction. On a nil return the transaction is
// committed; any error rolls it back. Transient backend errors are retried
// up to opts.MaxRetries times with backoff; everything else returns
// immediately.
func (m *Manager) Run(ctx context.Context, opts Options, fn func(ctx context.Context, tx *ledger.Tx) error) error {
	label := opts.Label
	if label == "" {
		label = "tx"
	}
	iso := opts.Isolation
	if iso == ledger.IsolationDefault {
		iso = ledger.IsolationReadCommitted
	}
	retries := opts.MaxRetries
	if retries == 0 {
		retries = DefaultMaxRetries
	}
	if retries < 0 {
		retries = 0
	}

	start := time.Now()
	attempt := 0
	operation := func() error {
		attempt++
		err := m.runOnce(ctx, iso, fn)
		switch {
		case err == nil:
			m.metrics.RecordTxAttempt(label, "ok")
			return nil
		case Transient(err):
			m.metrics.RecordTxAttempt(label, "retry")
			slog.WarnContext(ctx, "retrying transaction",
				slog.String("label", label),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return err
		default:
			m.metrics.RecordTxAttempt(label, "error")
			return backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	// Bounded by the retry count, not by wall time.
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
	m.metrics.ObserveTxDuration(label, time.Since(start))
	return err
}

func (m *Manager) runOnce(ctx context.Context, iso ledger.Isolation, fn func(ctx context.Context, tx *ledger.Tx) error) error {
	tx, err := m.store.Begin(ctx, iso)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("txmanager: commit: %w", err)
	}
	committed = true
	return nil
}
