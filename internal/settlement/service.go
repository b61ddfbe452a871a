// Package settlement implements the order/credit settlement core: cart
// conversion, the order lifecycle, credit holds against a customer's
// credit line and the event trail that makes the whole flow auditable.
//
// Every operation is one local transaction that mutates business rows and
// writes its outbox row atomically. Cross-aggregate flows (convert, then
// reserve, then capture) are deliberately not wrapped in a distributed
// transaction; the caller drives them step by step and compensates with
// CancelOrder or ReleaseCredit when a later step fails.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/txmanager"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

// Service exposes the settlement operations. All methods are safe for
// concurrent use; per-customer credit mutations serialize on the customer
// row lock inside the store.
type Service struct {
	tm      *txmanager.Manager
	metrics *telemetry.Metrics
}

func NewService(tm *txmanager.Manager, metrics *telemetry.Metrics) *Service {
	return &Service{tm: tm, metrics: metrics}
}

// Store exposes the read-only surface backing the audit and ops endpoints.
func (s *Service) Store() *ledger.Store { return s.tm.Store() }

type CreateOrderParams struct {
	CartID          string
	CustomerID      string
	ShippingAddress string
	BillingAddress  string
	Notes           string
	CreatedBy       string
}

type CreateOrderResult struct {
	Order         *domain.Order
	EventID       string
	CorrelationID string
}

// CreateOrder converts an ACTIVE cart into a DRAFT order. Totals are
// copied verbatim; the cart is stamped CONVERTED in the same transaction,
// so re-invoking on the same cart fails CART_NOT_ACTIVE instead of
// creating a second order.
func (s *Service) CreateOrder(ctx context.Context, p CreateOrderParams) (*CreateOrderResult, error) {
	corr := domain.NewCorrelation()
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	var result *CreateOrderResult
	err := s.tm.Run(ctx, txmanager.Options{Label: "create_order"}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()

		cart, err := tx.CartByID(ctx, p.CartID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrCartNotFound, "cart %s", p.CartID)
		}
		if err != nil {
			return err
		}
		// Status before ownership: a consumed cart answers CART_NOT_ACTIVE
		// no matter who asks.
		if !cart.Convertible() {
			return domain.E(domain.ErrCartNotActive, "cart %s is %s", p.CartID, cart.Status)
		}
		if cart.CustomerID != p.CustomerID {
			return domain.E(domain.ErrCartOwnerMismatch, "cart %s belongs to another customer", p.CartID)
		}
		if len(cart.Items) == 0 {
			return domain.E(domain.ErrEmptyCart, "cart %s has no items", p.CartID)
		}

		seq, err := tx.NextOrderSequence(ctx, orderNumberDay(now))
		if err != nil {
			return err
		}
		order := &domain.Order{
			ID:              uuid.NewString(),
			OrderNumber:     formatOrderNumber(now, seq),
			CustomerID:      cart.CustomerID,
			CartID:          cart.ID,
			Status:          domain.OrderStatusDraft,
			PaymentStatus:   domain.PaymentStatusUnpaid,
			Subtotal:        cart.Subtotal,
			Discount:        cart.Discount,
			Tax:             cart.Tax,
			Shipping:        cart.Shipping,
			GrandTotal:      cart.Total,
			ShippingAddress: p.ShippingAddress,
			BillingAddress:  p.BillingAddress,
			Notes:           p.Notes,
			CreatedBy:       p.CreatedBy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		items := make([]domain.OrderItem, len(cart.Items))
		for i, it := range cart.Items {
			items[i] = domain.OrderItem{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				ProductID: it.ProductID,
				SKU:       it.SKU,
				Name:      it.Name,
				Quantity:  it.Quantity,
				UnitPrice: it.UnitPrice,
				LineTotal: it.LineTotal,
			}
		}
		if err := tx.InsertOrder(ctx, order, items); err != nil {
			return err
		}
		if err := tx.MarkCartConverted(ctx, cart.ID, order.ID, now); err != nil {
			return err
		}

		event, err := enqueue(ctx, tx, corr, domain.EventOrderCreated, domain.OrderCreatedPayload{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CartID:      cart.ID,
			CustomerID:  cart.CustomerID,
			ItemCount:   len(items),
			Subtotal:    order.Subtotal,
			GrandTotal:  order.GrandTotal,
			CreatedBy:   p.CreatedBy,
		}, now)
		if err != nil {
			return err
		}
		result = &CreateOrderResult{Order: order, EventID: event.EventID, CorrelationID: corr.CorrelationID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order created",
		slog.String("order_id", result.Order.ID),
		slog.String("order_number", result.Order.OrderNumber),
		slog.String("customer_id", result.Order.CustomerID))
	return result, nil
}

// ConfirmOrder moves a funded order out of DRAFT.
func (s *Service) ConfirmOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.advanceOrder(ctx, "confirm_order", orderID, domain.OrderStatusConfirmed, domain.EventOrderConfirmed, "")
}

// StartFulfillment begins picking/packing. Requires captured payment.
func (s *Service) StartFulfillment(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.advanceOrder(ctx, "start_fulfillment", orderID, domain.OrderStatusFulfilling, domain.EventOrderFulfilling, domain.PaymentStatusCaptured)
}

// CompleteFulfillment marks the order shipped and done.
func (s *Service) CompleteFulfillment(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.advanceOrder(ctx, "complete_fulfillment", orderID, domain.OrderStatusFulfilled, domain.EventOrderFulfilled, domain.PaymentStatusCaptured)
}

func (s *Service) advanceOrder(ctx context.Context, label, orderID string, next domain.OrderStatus, eventType string, requirePayment domain.PaymentStatus) (*domain.Order, error) {
	corr := workflowCorrelation(ctx, domain.Correlation{})
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	var out *domain.Order
	err := s.tm.Run(ctx, txmanager.Options{Label: label}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()
		order, err := tx.OrderByID(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrOrderNotFound, "order %s", orderID)
		}
		if err != nil {
			return err
		}
		if requirePayment != "" && order.PaymentStatus != requirePayment {
			return domain.E(domain.ErrInvalidTransition,
				"order %s payment is %s, %s requires %s", orderID, order.PaymentStatus, next, requirePayment)
		}
		if !order.Status.CanTransitionTo(next) {
			return domain.E(domain.ErrInvalidTransition, "order %s cannot go %s -> %s", orderID, order.Status, next)
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, next, order.CancelReason, now); err != nil {
			return err
		}
		order.Status = next
		order.UpdatedAt = now

		if _, err := enqueue(ctx, tx, corr, eventType, domain.OrderStatusPayload{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Status:      string(next),
		}, now); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order status advanced",
		slog.String("order_id", orderID),
		slog.String("status", string(next)))
	return out, nil
}

type CancelOrderResult struct {
	// Cancelled is false when the order was already CANCELLED.
	Cancelled      bool
	ReleasedAmount decimal.Decimal
}

// CancelOrder is the compensation entry point: it releases any ACTIVE
// credit hold for the order, then cancels the order, all in one
// transaction. Cancelling an already-CANCELLED order is a no-op.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (*CancelOrderResult, error) {
	corr := workflowCorrelation(ctx, domain.Correlation{})
	ctx = telemetry.WithCorrelationID(ctx, corr.CorrelationID)

	result := &CancelOrderResult{ReleasedAmount: decimal.Zero}
	err := s.tm.Run(ctx, txmanager.Options{Label: "cancel_order"}, func(ctx context.Context, tx *ledger.Tx) error {
		now := time.Now().UTC()
		order, err := tx.OrderByID(ctx, orderID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.E(domain.ErrOrderNotFound, "order %s", orderID)
		}
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusCancelled {
			result.Cancelled = false
			result.ReleasedAmount = decimal.Zero
			return nil
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return domain.E(domain.ErrInvalidTransition, "order %s cannot go %s -> %s",
				orderID, order.Status, domain.OrderStatusCancelled)
		}

		cancelCorr := corr
		hold, err := tx.ActiveReservationByOrder(ctx, orderID)
		switch {
		case err == nil:
			released, event, err := releaseHold(ctx, tx, hold.ID, reason, domain.ReservationReleased, corr, now)
			if err != nil {
				return err
			}
			if released != nil {
				result.ReleasedAmount = released.Amount
				cancelCorr = corr.Child(event.EventID)
			}
		case errors.Is(err, ledger.ErrNotFound):
			// nothing held
		default:
			return err
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusCancelled, reason, now); err != nil {
			return err
		}
		if _, err := enqueue(ctx, tx, cancelCorr, domain.EventOrderCancelled, domain.OrderStatusPayload{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Status:      string(domain.OrderStatusCancelled),
			Reason:      reason,
		}, now); err != nil {
			return err
		}
		result.Cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Cancelled {
		slog.InfoContext(ctx, "order cancelled",
			slog.String("order_id", orderID),
			slog.String("reason", reason),
			slog.String("released_amount", result.ReleasedAmount.String()))
	}
	return result, nil
}
