package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/txmanager"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

type ReserveCreditParams struct {
	CustomerID string
	OrderID    string
	Amount     decimal.Decimal
	// Correlation continues the workflow of the order-creation event.
	// Zero value starts a fresh chain.
	Correlation domain.Correlation
}

type ReserveCreditResult struct {
	Reservation    *domain.CreditReservation
	TransactionID  string
	AvailableAfter decimal.Decimal
	EventID        string
}

// ReserveCredit places a hold against the customer's credit line. The
// customer row lock serializes concurrent holds, so two reservations whose
// combined amount exceeds the available credit can never both succeed.
func (s *Service) ReserveCredit(ctx context.Context, p ReserveCreditParams) (*ReserveCreditResult, error) {
	if !p.Amount.IsPositive() {
		return nil, domain.E(domain.ErrInvalidAmount, "reserve amount must be positive, got %s", p.Amount)
	}
	corr := workflowCorrelation(ctx, p.Correlation)
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	var result *ReserveCreditResult
	err := s.tm.Run(ctx, txmanager.Options{Label: "reserve_credit"}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()

		customer, err := tx.CustomerForUpdate(ctx, p.CustomerID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrCustomerNotFound, "customer %s", p.CustomerID)
		}
		if err != nil {
			return err
		}
		order, err := tx.OrderByID(ctx, p.OrderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrOrderNotFound, "order %s", p.OrderID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ActiveReservationByOrder(ctx, p.OrderID); err == nil {
			return domain.E(domain.ErrDuplicateReservation, "order %s already has an active hold", p.OrderID)
		} else if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		if !order.PaymentStatus.CanTransitionTo(domain.PaymentStatusReserved) {
			return domain.E(domain.ErrInvalidTransition, "order %s payment cannot go %s -> %s",
				p.OrderID, order.PaymentStatus, domain.PaymentStatusReserved)
		}

		available := customer.AvailableCredit()
		if p.Amount.GreaterThan(available) {
			return domain.E(domain.ErrInsufficientCredit, "requested %s, available %s", p.Amount, available)
		}

		if err := tx.UpdateCustomerCredit(ctx, customer.ID, customer.UsedCredit.Add(p.Amount), now); err != nil {
			return err
		}
		hold := &domain.CreditReservation{
			ID:            uuid.NewString(),
			CustomerID:    customer.ID,
			OrderID:       p.OrderID,
			Amount:        p.Amount,
			BalanceBefore: available,
			BalanceAfter:  available.Sub(p.Amount),
			Status:        domain.ReservationActive,
			ReservedAt:    now,
			ExpiresAt:     now.Add(domain.DefaultReservationTTL),
			UpdatedAt:     now,
		}
		if err := tx.InsertReservation(ctx, hold); err != nil {
			return err
		}
		entry := &domain.CreditTransaction{
			ID:          uuid.NewString(),
			CustomerID:  customer.ID,
			ReferenceID: p.OrderID,
			Type:        domain.CreditTxReserve,
			Amount:      p.Amount,
			CreatedAt:   now,
		}
		if err := tx.InsertCreditTransaction(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateOrderPaymentStatus(ctx, p.OrderID, domain.PaymentStatusReserved, now); err != nil {
			return err
		}

		event, err := enqueue(ctx, tx, corr, domain.EventCreditReserved, domain.CreditReservedPayload{
			ReservationID: hold.ID,
			CustomerID:    customer.ID,
			OrderID:       p.OrderID,
			Amount:        p.Amount,
			BalanceBefore: hold.BalanceBefore,
			BalanceAfter:  hold.BalanceAfter,
			ExpiresAt:     hold.ExpiresAt,
		}, now)
		if err != nil {
			return err
		}
		result = &ReserveCreditResult{
			Reservation:    hold,
			TransactionID:  entry.ID,
			AvailableAfter: hold.BalanceAfter,
			EventID:        event.EventID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "credit reserved",
		slog.String("customer_id", p.CustomerID),
		slog.String("order_id", p.OrderID),
		slog.String("amount", p.Amount.String()),
		slog.String("available_after", result.AvailableAfter.String()))
	return result, nil
}

type CaptureCreditResult struct {
	TransactionID string
	// Captured is false when an earlier call already captured the hold;
	// TransactionID then names the original ledger row.
	Captured bool
}

// CaptureCredit converts an ACTIVE hold into a ledger charge. The captured
// amount stays inside usedCredit until a refund returns it.
func (s *Service) CaptureCredit(ctx context.Context, orderID string) (*CaptureCreditResult, error) {
	corr := workflowCorrelation(ctx, domain.Correlation{})
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	var result *CaptureCreditResult
	err := s.tm.Run(ctx, txmanager.Options{Label: "capture_credit"}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()

		hold, err := tx.LatestReservationByOrder(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrReservationNotFound, "no reservation for order %s", orderID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.CustomerForUpdate(ctx, hold.CustomerID); err != nil {
			return err
		}
		// Reread now that the customer lock serializes us against any
		// concurrent capture, release or expiry of the same hold.
		hold, err = tx.LatestReservationByOrder(ctx, orderID)
		if err != nil {
			return err
		}

		switch hold.Status {
		case domain.ReservationCaptured:
			existing, err := tx.CreditTransactionByReference(ctx, orderID, domain.CreditTxCapture)
			if err != nil {
				return fmt.Errorf("settlement: captured hold %s has no ledger row: %w", hold.ID, err)
			}
			result = &CaptureCreditResult{TransactionID: existing.ID, Captured: false}
			return nil
		case domain.ReservationActive:
			// fallthrough to capture
		default:
			return domain.E(domain.ErrReservationNotActive, "reservation for order %s is %s", orderID, hold.Status)
		}

		order, err := tx.OrderByID(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrOrderNotFound, "order %s", orderID)
		}
		if err != nil {
			return err
		}
		if !order.PaymentStatus.CanTransitionTo(domain.PaymentStatusCaptured) {
			return domain.E(domain.ErrInvalidTransition, "order %s payment cannot go %s -> %s",
				orderID, order.PaymentStatus, domain.PaymentStatusCaptured)
		}

		if err := tx.UpdateReservationStatus(ctx, hold.ID, domain.ReservationCaptured, "", now); err != nil {
			return err
		}
		entry := &domain.CreditTransaction{
			ID:          uuid.NewString(),
			CustomerID:  hold.CustomerID,
			ReferenceID: orderID,
			Type:        domain.CreditTxCapture,
			Amount:      hold.Amount,
			CreatedAt:   now,
		}
		if err := tx.InsertCreditTransaction(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateOrderPaymentStatus(ctx, orderID, domain.PaymentStatusCaptured, now); err != nil {
			return err
		}
		if _, err := enqueue(ctx, tx, corr, domain.EventCreditCaptured, domain.CreditCapturedPayload{
			ReservationID: hold.ID,
			TransactionID: entry.ID,
			CustomerID:    hold.CustomerID,
			OrderID:       orderID,
			Amount:        hold.Amount,
		}, now); err != nil {
			return err
		}
		result = &CaptureCreditResult{TransactionID: entry.ID, Captured: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "credit captured",
		slog.String("order_id", orderID),
		slog.String("transaction_id", result.TransactionID),
		slog.Bool("first_capture", result.Captured))
	return result, nil
}

type ReleaseCreditResult struct {
	// Released is false for the idempotent no-op on an already settled
	// hold; ReleasedAmount is then zero.
	Released       bool
	ReleasedAmount decimal.Decimal
}

// ReleaseCredit returns an ACTIVE hold to the customer's available credit.
// Already-released (or expired) holds are a no-op; captured holds must be
// refunded instead.
func (s *Service) ReleaseCredit(ctx context.Context, orderID, reason string) (*ReleaseCreditResult, error) {
	corr := workflowCorrelation(ctx, domain.Correlation{})
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	result := &ReleaseCreditResult{ReleasedAmount: decimal.Zero}
	err := s.tm.Run(ctx, txmanager.Options{Label: "release_credit"}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()

		hold, err := tx.LatestReservationByOrder(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrReservationNotFound, "no reservation for order %s", orderID)
		}
		if err != nil {
			return err
		}
		switch hold.Status {
		case domain.ReservationReleased, domain.ReservationExpired:
			result.Released = false
			result.ReleasedAmount = decimal.Zero
			return nil
		case domain.ReservationCaptured:
			return domain.E(domain.ErrReservationNotActive,
				"reservation for order %s is captured; refund instead of release", orderID)
		}

		released, _, err := releaseHold(ctx, tx, hold.ID, reason, domain.ReservationReleased, corr, now)
		if err != nil {
			return err
		}
		if released == nil {
			result.Released = false
			result.ReleasedAmount = decimal.Zero
			return nil
		}
		result.Released = true
		result.ReleasedAmount = released.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "credit released",
		slog.String("order_id", orderID),
		slog.String("reason", reason),
		slog.String("released_amount", result.ReleasedAmount.String()))
	return result, nil
}

type RefundCreditResult struct {
	TransactionID  string
	RefundedAmount decimal.Decimal
	// Refunded is false when an earlier call already refunded the charge.
	Refunded bool
}

// RefundCredit reverses a captured charge: the amount leaves usedCredit
// and a REFUND row documents it. The reservation itself stays CAPTURED as
// the historical record of the hold.
func (s *Service) RefundCredit(ctx context.Context, orderID, reason string) (*RefundCreditResult, error) {
	corr := workflowCorrelation(ctx, domain.Correlation{})
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	var result *RefundCreditResult
	err := s.tm.Run(ctx, txmanager.Options{Label: "refund_credit"}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()

		hold, err := tx.LatestReservationByOrder(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrReservationNotFound, "no reservation for order %s", orderID)
		}
		if err != nil {
			return err
		}
		if hold.Status != domain.ReservationCaptured {
			return domain.E(domain.ErrReservationNotCaptured, "reservation for order %s is %s", orderID, hold.Status)
		}

		customer, err := tx.CustomerForUpdate(ctx, hold.CustomerID)
		if err != nil {
			return err
		}
		existing, err := tx.CreditTransactionByReference(ctx, orderID, domain.CreditTxRefund)
		if err == nil {
			result = &RefundCreditResult{TransactionID: existing.ID, RefundedAmount: existing.Amount, Refunded: false}
			return nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}

		order, err := tx.OrderByID(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrOrderNotFound, "order %s", orderID)
		}
		if err != nil {
			return err
		}
		if !order.PaymentStatus.CanTransitionTo(domain.PaymentStatusRefunded) {
			return domain.E(domain.ErrInvalidTransition, "order %s payment cannot go %s -> %s",
				orderID, order.PaymentStatus, domain.PaymentStatusRefunded)
		}

		if err := tx.UpdateCustomerCredit(ctx, customer.ID, customer.UsedCredit.Sub(hold.Amount), now); err != nil {
			return err
		}
		entry := &domain.CreditTransaction{
			ID:          uuid.NewString(),
			CustomerID:  customer.ID,
			ReferenceID: orderID,
			Type:        domain.CreditTxRefund,
			Amount:      hold.Amount,
			CreatedAt:   now,
		}
		if err := tx.InsertCreditTransaction(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateOrderPaymentStatus(ctx, orderID, domain.PaymentStatusRefunded, now); err != nil {
			return err
		}
		if _, err := enqueue(ctx, tx, corr, domain.EventCreditRefunded, domain.CreditRefundedPayload{
			ReservationID: hold.ID,
			TransactionID: entry.ID,
			CustomerID:    customer.ID,
			OrderID:       orderID,
			Amount:        hold.Amount,
			Reason:        reason,
		}, now); err != nil {
			return err
		}
		result = &RefundCreditResult{TransactionID: entry.ID, RefundedAmount: hold.Amount, Refunded: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "credit refunded",
		slog.String("order_id", orderID),
		slog.String("transaction_id", result.TransactionID),
		slog.String("refunded_amount", result.RefundedAmount.String()))
	return result, nil
}

// releaseHold returns a hold to the credit line under the customer row
// lock: usedCredit shrinks by the hold amount, the hold moves to terminal
// (RELEASED or EXPIRED), a RELEASE ledger row and a credit.released event
// are written, and the order's payment drops back to RELEASED when legal.
//
// A nil reservation return (with nil error) means another transaction
// settled the hold first; nothing was changed.
func releaseHold(ctx context.Context, tx *ledger.Tx, reservationID, reason string, terminal domain.ReservationStatus, corr domain.Correlation, now time.Time) (*domain.CreditReservation, *domain.OutboxEvent, error) {
	hold, err := tx.ReservationByID(ctx, reservationID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil, domain.E(domain.ErrReservationNotFound, "reservation %s", reservationID)
	}
	if err != nil {
		return nil, nil, err
	}
	customer, err := tx.CustomerForUpdate(ctx, hold.CustomerID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil, domain.E(domain.ErrCustomerNotFound, "customer %s", hold.CustomerID)
	}
	if err != nil {
		return nil, nil, err
	}
	hold, err = tx.ReservationByID(ctx, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if hold.Status != domain.ReservationActive {
		return nil, nil, nil
	}

	if err := tx.UpdateCustomerCredit(ctx, customer.ID, customer.UsedCredit.Sub(hold.Amount), now); err != nil {
		return nil, nil, err
	}
	if err := tx.UpdateReservationStatus(ctx, hold.ID, terminal, reason, now); err != nil {
		return nil, nil, err
	}
	entry := &domain.CreditTransaction{
		ID:          uuid.NewString(),
		CustomerID:  hold.CustomerID,
		ReferenceID: hold.OrderID,
		Type:        domain.CreditTxRelease,
		Amount:      hold.Amount,
		CreatedAt:   now,
	}
	if err := tx.InsertCreditTransaction(ctx, entry); err != nil {
		return nil, nil, err
	}

	order, err := tx.OrderByID(ctx, hold.OrderID)
	switch {
	case err == nil:
		if order.PaymentStatus.CanTransitionTo(domain.PaymentStatusReleased) {
			if err := tx.UpdateOrderPaymentStatus(ctx, hold.OrderID, domain.PaymentStatusReleased, now); err != nil {
				return nil, nil, err
			}
		}
	case errors.Is(err, ledger.ErrNotFound):
		// hold without a surviving order; release the credit regardless
	default:
		return nil, nil, err
	}

	event, err := enqueue(ctx, tx, corr, domain.EventCreditReleased, domain.CreditReleasedPayload{
		ReservationID: hold.ID,
		CustomerID:    hold.CustomerID,
		OrderID:       hold.OrderID,
		Amount:        hold.Amount,
		Reason:        reason,
	}, now)
	if err != nil {
		return nil, nil, err
	}
	hold.Status = terminal
	hold.ReleaseReason = reason
	hold.UpdatedAt = now
	return hold, event, nil
}
