package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	ledgersqlite "github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/sqlite"
)

func newStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledgersqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func inTx(t *testing.T, store *ledger.Store, fn func(tx *ledger.Tx)) {
	t.Helper()
	tx, err := store.Begin(context.Background(), ledger.IsolationDefault)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(money(want)), "want %s, got %s", want, got)
}

func testCart(customerID string) *domain.Cart {
	now := time.Now().UTC()
	return &domain.Cart{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     domain.CartStatusActive,
		Items: []domain.CartItem{
			{ProductID: "prod-1", SKU: "SKU-1", Name: "Widget", Quantity: 2, UnitPrice: money("19.99"), LineTotal: money("39.98")},
			{ProductID: "prod-2", SKU: "SKU-2", Name: "Gadget", Quantity: 1, UnitPrice: money("5.00"), LineTotal: money("5.00")},
		},
		Subtotal:  money("44.98"),
		Discount:  money("4.98"),
		Tax:       money("8.00"),
		Shipping:  money("10.00"),
		Total:     money("58.00"),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func seedCustomer(t *testing.T, store *ledger.Store, id, limit string) {
	t.Helper()
	now := time.Now().UTC()
	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertCustomer(context.Background(), &domain.Customer{
			ID:          id,
			Name:        "Test Customer",
			CreditLimit: money(limit),
			UsedCredit:  decimal.Zero,
			CreatedAt:   now,
			UpdatedAt:   now,
		}))
	})
}

func testOrder(customerID, cartID string) *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:            uuid.NewString(),
		OrderNumber:   "LDX-20260821-000001",
		CustomerID:    customerID,
		CartID:        cartID,
		Status:        domain.OrderStatusDraft,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Subtotal:      money("44.98"),
		Discount:      money("4.98"),
		Tax:           money("8.00"),
		Shipping:      money("10.00"),
		GrandTotal:    money("58.00"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCartRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cart := testCart("cust-1")

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertCart(ctx, cart))
	})

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.CartByID(ctx, cart.ID)
		require.NoError(t, err)
		require.Equal(t, cart.ID, got.ID)
		require.Equal(t, "cust-1", got.CustomerID)
		require.Equal(t, domain.CartStatusActive, got.Status)
		require.Empty(t, got.OrderID)
		require.Len(t, got.Items, 2)
		require.Equal(t, "prod-1", got.Items[0].ProductID)
		require.Equal(t, "prod-2", got.Items[1].ProductID)
		require.Equal(t, 2, got.Items[0].Quantity)
		requireMoney(t, "19.99", got.Items[0].UnitPrice)
		requireMoney(t, "58.00", got.Total)
		require.WithinDuration(t, cart.CreatedAt, got.CreatedAt, time.Millisecond)
	})
}

func TestCartByIDNotFound(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(tx *ledger.Tx) {
		_, err := tx.CartByID(context.Background(), "missing")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestMarkCartConverted(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cart := testCart("cust-1")
	now := time.Now().UTC()

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertCart(ctx, cart))
		require.NoError(t, tx.MarkCartConverted(ctx, cart.ID, "order-1", now))
	})

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.CartByID(ctx, cart.ID)
		require.NoError(t, err)
		require.Equal(t, domain.CartStatusConverted, got.Status)
		require.Equal(t, "order-1", got.OrderID)
		require.False(t, got.Convertible())
	})
}

func TestMarkCartConvertedMissing(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(tx *ledger.Tx) {
		err := tx.MarkCartConverted(context.Background(), "missing", "order-1", time.Now().UTC())
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestOrderRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	order := testOrder("cust-1", "cart-1")
	items := []domain.OrderItem{
		{ID: uuid.NewString(), OrderID: order.ID, ProductID: "prod-1", SKU: "SKU-1", Name: "Widget", Quantity: 2, UnitPrice: money("19.99"), LineTotal: money("39.98")},
		{ID: uuid.NewString(), OrderID: order.ID, ProductID: "prod-2", SKU: "SKU-2", Name: "Gadget", Quantity: 1, UnitPrice: money("5.00"), LineTotal: money("5.00")},
	}

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertOrder(ctx, order, items))
	})

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.OrderByID(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, order.OrderNumber, got.OrderNumber)
		require.Equal(t, domain.OrderStatusDraft, got.Status)
		require.Equal(t, domain.PaymentStatusUnpaid, got.PaymentStatus)
		requireMoney(t, "58.00", got.GrandTotal)

		gotItems, err := tx.OrderItems(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, gotItems, 2)
		require.Equal(t, "prod-1", gotItems[0].ProductID)
		require.Equal(t, "prod-2", gotItems[1].ProductID)
	})
}

func TestUpdateOrderStatus(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	order := testOrder("cust-1", "cart-1")
	now := time.Now().UTC()

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertOrder(ctx, order, nil))
		require.NoError(t, tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled, "changed my mind", now))
		require.NoError(t, tx.UpdateOrderPaymentStatus(ctx, order.ID, domain.PaymentStatusReserved, now))
	})

	inTx(t, store, func(tx *ledger.Tx) {
		got, err := tx.OrderByID(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, domain.OrderStatusCancelled, got.Status)
		require.Equal(t, "changed my mind", got.CancelReason)
		require.Equal(t, domain.PaymentStatusReserved, got.PaymentStatus)
	})
}

func TestUpdateOrderStatusMissing(t *testing.T) {
	store := newStore(t)
	inTx(t, store, func(tx *ledger.Tx) {
		err := tx.UpdateOrderStatus(context.Background(), "missing", domain.OrderStatusCancelled, "", time.Now().UTC())
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestNextOrderSequencePerDay(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var first, second, otherDay int64
	inTx(t, store, func(tx *ledger.Tx) {
		var err error
		first, err = tx.NextOrderSequence(ctx, "20260821")
		require.NoError(t, err)
		second, err = tx.NextOrderSequence(ctx, "20260821")
		require.NoError(t, err)
		otherDay, err = tx.NextOrderSequence(ctx, "20260822")
		require.NoError(t, err)
	})

	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)
	require.Equal(t, int64(1), otherDay)
}
