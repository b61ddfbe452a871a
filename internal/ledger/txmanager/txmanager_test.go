package txmanager_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	ledgersqlite "github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/sqlite"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger/txmanager"
)

func newManager(t *testing.T) *txmanager.Manager {
	t.Helper()
	store, err := ledgersqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return txmanager.New(store, nil)
}

func TestRunCommits(t *testing.T) {
	tm := newManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := tm.Run(ctx, txmanager.Options{Label: "seed"}, func(ctx context.Context, tx *ledger.Tx) error {
		return tx.InsertCustomer(ctx, &domain.Customer{
			ID: "cust-1", Name: "Ada", CreditLimit: decimal.NewFromInt(1000),
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	got, err := tm.Store().CustomerByID(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, "Ada", got.Name)
}

func TestRunRollsBackOnError(t *testing.T) {
	tm := newManager(t)
	ctx := context.Background()
	now := time.Now().UTC()
	boom := errors.New("boom")

	err := tm.Run(ctx, txmanager.Options{Label: "seed"}, func(ctx context.Context, tx *ledger.Tx) error {
		if err := tx.InsertCustomer(ctx, &domain.Customer{
			ID: "cust-1", Name: "Ada", CreditLimit: decimal.NewFromInt(1000),
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = tm.Store().CustomerByID(ctx, "cust-1")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDomainErrorsAreNotRetried(t *testing.T) {
	tm := newManager(t)
	attempts := 0

	err := tm.Run(context.Background(), txmanager.Options{Label: "op"}, func(ctx context.Context, tx *ledger.Tx) error {
		attempts++
		return domain.E(domain.ErrInsufficientCredit, "requested 7000, available 6000")
	})
	require.True(t, domain.IsKind(err, domain.ErrInsufficientCredit))
	require.Equal(t, 1, attempts)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	tm := newManager(t)
	attempts := 0

	err := tm.Run(context.Background(), txmanager.Options{Label: "op", MaxRetries: 2}, func(ctx context.Context, tx *ledger.Tx) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001", Message: "serialization failure"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryBudgetExhausted(t *testing.T) {
	tm := newManager(t)
	attempts := 0
	transient := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}

	err := tm.Run(context.Background(), txmanager.Options{Label: "op", MaxRetries: 2}, func(ctx context.Context, tx *ledger.Tx) error {
		attempts++
		return transient
	})
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, 3, attempts)
}

func TestNegativeMaxRetriesDisablesRetry(t *testing.T) {
	tm := newManager(t)
	attempts := 0

	err := tm.Run(context.Background(), txmanager.Options{Label: "op", MaxRetries: -1}, func(ctx context.Context, tx *ledger.Tx) error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestTransientClassification(t *testing.T) {
	require.False(t, txmanager.Transient(nil))
	require.False(t, txmanager.Transient(context.Canceled))
	require.False(t, txmanager.Transient(context.DeadlineExceeded))
	require.False(t, txmanager.Transient(errors.New("plain failure")))
	require.False(t, txmanager.Transient(domain.E(domain.ErrCartNotFound, "cart x")))

	require.True(t, txmanager.Transient(&pgconn.PgError{Code: "40001"}))
	require.True(t, txmanager.Transient(&pgconn.PgError{Code: "40P01"}))
	require.True(t, txmanager.Transient(&pgconn.PgError{Code: "55P03"}))
	require.False(t, txmanager.Transient(&pgconn.PgError{Code: "23505"}))

	// Wrapped errors still classify through errors.As.
	require.True(t, txmanager.Transient(fmt.Errorf("ledger: update: %w", &pgconn.PgError{Code: "40001"})))
	require.False(t, txmanager.Transient(fmt.Errorf("settlement: %w", domain.E(domain.ErrEmptyCart, "cart x"))))
}
