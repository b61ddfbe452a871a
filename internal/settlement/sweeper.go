package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/txmanager"
)

// ExpiryReason is recorded on holds released by the sweep.
const ExpiryReason = "expired"

// SweepExpiredOnce releases every ACTIVE hold past its expiry, each in its
// own transaction so one failure does not poison the batch. Returns how
// many holds were actually released.
func (s *Service) SweepExpiredOnce(ctx context.Context, batchSize int) (int, error) {
	candidates, err := s.tm.Store().ExpiredReservations(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, candidate := range candidates {
		expired := false
		err := s.tm.Run(ctx, txmanager.Options{Label: "expire_reservation"}, func(ctx context.Context, tx *ledger.Tx) error {
			hold, _, err := releaseHold(ctx, tx, candidate.ID, ExpiryReason, domain.ReservationExpired, domain.NewCorrelation(), time.Now().UTC())
			if err != nil {
				return err
			}
			expired = hold != nil
			return nil
		})
		if err != nil {
			slog.ErrorContext(ctx, "expiry sweep failed for reservation",
				slog.String("reservation_id", candidate.ID),
				slog.String("order_id", candidate.OrderID),
				slog.String("error", err.Error()))
			continue
		}
		if expired {
			released++
			s.metrics.RecordReservationExpired()
			slog.InfoContext(ctx, "reservation expired",
				slog.String("reservation_id", candidate.ID),
				slog.String("order_id", candidate.OrderID),
				slog.String("amount", candidate.Amount.String()))
		}
	}
	return released, nil
}

// Sweeper periodically releases expired credit holds.
type Sweeper struct {
	svc       *Service
	interval  time.Duration
	batchSize int
}

func NewSweeper(svc *Service, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{svc: svc, interval: interval, batchSize: batchSize}
}

// Run sweeps on the configured interval until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "expiry sweeper started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := w.svc.SweepExpiredOnce(ctx, w.batchSize); err != nil {
				slog.ErrorContext(ctx, "expiry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
