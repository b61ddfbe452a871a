package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
)

func testReservation(customerID, orderID string, status domain.ReservationStatus) *domain.CreditReservation {
	now := time.Now().UTC()
	return &domain.CreditReservation{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		OrderID:       orderID,
		Amount:        money("4000"),
		BalanceBefore: money("10000"),
		BalanceAfter:  money("6000"),
		Status:        status,
		ReservedAt:    now,
		ExpiresAt:     now.Add(30 * time.Minute),
		UpdatedAt:     now,
	}
}

func TestCustomerCreditRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")

	now := time.Now().UTC()
	inTx(t, store, func(tx *ledger.Tx) {
		c, err := tx.CustomerForUpdate(ctx, "cust-1")
		require.NoError(t, err)
		requireMoney(t, "10000", c.CreditLimit)
		requireMoney(t, "0", c.UsedCredit)
		requireMoney(t, "10000", c.AvailableCredit())

		require.NoError(t, tx.UpdateCustomerCredit(ctx, "cust-1", money("4000"), now))
	})

	got, err := store.CustomerByID(ctx, "cust-1")
	require.NoError(t, err)
	requireMoney(t, "4000", got.UsedCredit)
	requireMoney(t, "6000", got.AvailableCredit())
}

func TestCustomerNotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.CustomerByID(ctx, "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	inTx(t, store, func(tx *ledger.Tx) {
		_, err := tx.CustomerForUpdate(ctx, "missing")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})
}

func TestReservationLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")
	hold := testReservation("cust-1", "order-1", domain.ReservationActive)
	now := time.Now().UTC()

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertReservation(ctx, hold))

		active, err := tx.ActiveReservationByOrder(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, hold.ID, active.ID)
		requireMoney(t, "4000", active.Amount)
		requireMoney(t, "10000", active.BalanceBefore)
		requireMoney(t, "6000", active.BalanceAfter)

		require.NoError(t, tx.UpdateReservationStatus(ctx, hold.ID, domain.ReservationReleased, "cancelled", now))

		_, err = tx.ActiveReservationByOrder(ctx, "order-1")
		require.ErrorIs(t, err, ledger.ErrNotFound)

		got, err := tx.ReservationByID(ctx, hold.ID)
		require.NoError(t, err)
		require.Equal(t, domain.ReservationReleased, got.Status)
		require.Equal(t, "cancelled", got.ReleaseReason)
	})
}

func TestOnlyOneActiveReservationPerOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")

	first := testReservation("cust-1", "order-1", domain.ReservationActive)
	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertReservation(ctx, first))
	})

	// A second ACTIVE hold for the same order violates the partial unique
	// index.
	tx, err := store.Begin(ctx, ledger.IsolationDefault)
	require.NoError(t, err)
	err = tx.InsertReservation(ctx, testReservation("cust-1", "order-1", domain.ReservationActive))
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	// Once the first hold is settled the order can be funded again.
	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.UpdateReservationStatus(ctx, first.ID, domain.ReservationReleased, "released", time.Now().UTC()))
		require.NoError(t, tx.InsertReservation(ctx, testReservation("cust-1", "order-1", domain.ReservationActive)))
	})
}

func TestLatestReservationByOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")

	older := testReservation("cust-1", "order-1", domain.ReservationReleased)
	older.ReservedAt = time.Now().UTC().Add(-time.Hour)
	newer := testReservation("cust-1", "order-1", domain.ReservationActive)

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertReservation(ctx, older))
		require.NoError(t, tx.InsertReservation(ctx, newer))

		got, err := tx.LatestReservationByOrder(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, newer.ID, got.ID)
	})
}

func TestExpiredReservations(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")

	expired := testReservation("cust-1", "order-1", domain.ReservationActive)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	fresh := testReservation("cust-1", "order-2", domain.ReservationActive)
	settled := testReservation("cust-1", "order-3", domain.ReservationReleased)
	settled.ExpiresAt = expired.ExpiresAt

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertReservation(ctx, expired))
		require.NoError(t, tx.InsertReservation(ctx, fresh))
		require.NoError(t, tx.InsertReservation(ctx, settled))
	})

	due, err := store.ExpiredReservations(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, expired.ID, due[0].ID)
}

func TestCountActiveReservations(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertReservation(ctx, testReservation("cust-1", "order-1", domain.ReservationActive)))
		require.NoError(t, tx.InsertReservation(ctx, testReservation("cust-1", "order-2", domain.ReservationActive)))
		require.NoError(t, tx.InsertReservation(ctx, testReservation("cust-1", "order-3", domain.ReservationCaptured)))
	})

	n, err := store.CountActiveReservations(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = store.CountActiveReservations(ctx, "cust-2")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCreditTransactionLedger(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seedCustomer(t, store, "cust-1", "10000")
	now := time.Now().UTC()

	reserve := &domain.CreditTransaction{
		ID: uuid.NewString(), CustomerID: "cust-1", ReferenceID: "order-1",
		Type: domain.CreditTxReserve, Amount: money("4000"), CreatedAt: now.Add(-2 * time.Second),
	}
	capture := &domain.CreditTransaction{
		ID: uuid.NewString(), CustomerID: "cust-1", ReferenceID: "order-1",
		Type: domain.CreditTxCapture, Amount: money("4000"), CreatedAt: now.Add(-time.Second),
	}

	inTx(t, store, func(tx *ledger.Tx) {
		require.NoError(t, tx.InsertCreditTransaction(ctx, reserve))
		require.NoError(t, tx.InsertCreditTransaction(ctx, capture))

		got, err := tx.CreditTransactionByReference(ctx, "order-1", domain.CreditTxCapture)
		require.NoError(t, err)
		require.Equal(t, capture.ID, got.ID)
		requireMoney(t, "4000", got.Amount)

		_, err = tx.CreditTransactionByReference(ctx, "order-1", domain.CreditTxRefund)
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	all, err := store.CreditTransactionsByCustomer(ctx, "cust-1", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
