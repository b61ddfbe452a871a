package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

const customerColumns = `id, name, credit_limit, used_credit, created_at, updated_at`

func scanCustomer(sc rowScanner) (*domain.Customer, error) {
	var (
		c         domain.Customer
		createdAt dbTime
		updatedAt dbTime
	)
	if err := sc.Scan(&c.ID, &c.Name, &c.CreditLimit, &c.UsedCredit, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = createdAt.Time()
	c.UpdatedAt = updatedAt.Time()
	return &c, nil
}

func (t *Tx) InsertCustomer(ctx context.Context, c *domain.Customer) error {
	const q = `INSERT INTO customers (id, name, credit_limit, used_credit, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(ctx, q,
		c.ID, c.Name, c.CreditLimit, c.UsedCredit,
		t.dialect.bindTime(c.CreatedAt), t.dialect.bindTime(c.UpdatedAt),
	); err != nil {
		return fmt.Errorf("ledger: insert customer %q: %w", c.ID, err)
	}
	return nil
}

// CustomerForUpdate loads a customer and, on PostgreSQL, takes a row lock
// that serializes concurrent credit mutations for that customer until the
// transaction ends. SQLite has a single writer, so the plain read is
// already serialized.
func (t *Tx) CustomerForUpdate(ctx context.Context, id string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if t.dialect == DialectPostgres {
		q += ` FOR UPDATE`
	}
	c, err := scanCustomer(t.tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: lock customer %q: %w", id, err)
	}
	return c, nil
}

// CustomerByID is the lock-free read used outside credit mutations.
func (s *Store) CustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	c, err := scanCustomer(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load customer %q: %w", id, err)
	}
	return c, nil
}

// CountActiveReservations reports how many ACTIVE holds a customer has.
func (s *Store) CountActiveReservations(ctx context.Context, customerID string) (int, error) {
	const q = `SELECT COUNT(*) FROM credit_reservations WHERE customer_id = $1 AND status = 'ACTIVE'`
	var n int
	if err := s.db.QueryRowContext(ctx, q, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count active reservations for %q: %w", customerID, err)
	}
	return n, nil
}

func (t *Tx) UpdateCustomerCredit(ctx context.Context, customerID string, usedCredit decimal.Decimal, now time.Time) error {
	const q = `UPDATE customers SET used_credit = $1, updated_at = $2 WHERE id = $3`
	res, err := t.tx.ExecContext(ctx, q, usedCredit, t.dialect.bindTime(now), customerID)
	if err != nil {
		return fmt.Errorf("ledger: update customer %q credit: %w", customerID, err)
	}
	return oneRow(res, fmt.Sprintf("ledger: update customer %q credit", customerID))
}

const reservationColumns = `id, customer_id, order_id, amount, balance_before, balance_after,
        status, release_reason, reserved_at, expires_at, updated_at`

func scanReservation(sc rowScanner) (*domain.CreditReservation, error) {
	var (
		r          domain.CreditReservation
		status     string
		reservedAt dbTime
		expiresAt  dbTime
		updatedAt  dbTime
	)
	if err := sc.Scan(
		&r.ID, &r.CustomerID, &r.OrderID, &r.Amount, &r.BalanceBefore, &r.BalanceAfter,
		&status, &r.ReleaseReason, &reservedAt, &expiresAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = domain.ReservationStatus(status)
	r.ReservedAt = reservedAt.Time()
	r.ExpiresAt = expiresAt.Time()
	r.UpdatedAt = updatedAt.Time()
	return &r, nil
}

func (t *Tx) InsertReservation(ctx context.Context, r *domain.CreditReservation) error {
	const q = `INSERT INTO credit_reservations
        (id, customer_id, order_id, amount, balance_before, balance_after,
         status, release_reason, reserved_at, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := t.tx.ExecContext(ctx, q,
		r.ID, r.CustomerID, r.OrderID, r.Amount, r.BalanceBefore, r.BalanceAfter,
		string(r.Status), r.ReleaseReason,
		t.dialect.bindTime(r.ReservedAt), t.dialect.bindTime(r.ExpiresAt), t.dialect.bindTime(r.UpdatedAt),
	); err != nil {
		return fmt.Errorf("ledger: insert reservation %q: %w", r.ID, err)
	}
	return nil
}

func (t *Tx) ReservationByID(ctx context.Context, id string) (*domain.CreditReservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM credit_reservations WHERE id = $1`
	r, err := scanReservation(t.tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load reservation %q: %w", id, err)
	}
	return r, nil
}

// ActiveReservationByOrder finds the ACTIVE hold for an order, if any. The
// partial unique index guarantees at most one.
func (t *Tx) ActiveReservationByOrder(ctx context.Context, orderID string) (*domain.CreditReservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM credit_reservations
        WHERE order_id = $1 AND status = 'ACTIVE'`
	r, err := scanReservation(t.tx.QueryRowContext(ctx, q, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load active reservation for order %q: %w", orderID, err)
	}
	return r, nil
}

// LatestReservationByOrder returns the most recent hold for an order in any
// status. Capture and release consult it to distinguish "already done" from
// "never reserved".
func (t *Tx) LatestReservationByOrder(ctx context.Context, orderID string) (*domain.CreditReservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM credit_reservations
        WHERE order_id = $1 ORDER BY reserved_at DESC LIMIT 1`
	r, err := scanReservation(t.tx.QueryRowContext(ctx, q, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load latest reservation for order %q: %w", orderID, err)
	}
	return r, nil
}

func (t *Tx) UpdateReservationStatus(ctx context.Context, id string, status domain.ReservationStatus, releaseReason string, now time.Time) error {
	const q = `UPDATE credit_reservations SET status = $1, release_reason = $2, updated_at = $3 WHERE id = $4`
	res, err := t.tx.ExecContext(ctx, q, string(status), releaseReason, t.dialect.bindTime(now), id)
	if err != nil {
		return fmt.Errorf("ledger: update reservation %q status: %w", id, err)
	}
	return oneRow(res, fmt.Sprintf("ledger: update reservation %q status", id))
}

// ExpiredReservations lists ACTIVE holds whose expiry is at or before the
// cutoff. The sweep re-checks each row inside its own transaction before
// releasing, so a stale listing is harmless.
func (s *Store) ExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.CreditReservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM credit_reservations
        WHERE status = 'ACTIVE' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, s.dialect.bindTime(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list expired reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditReservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan expired reservation: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate expired reservations: %w", err)
	}
	return out, nil
}

func (t *Tx) InsertCreditTransaction(ctx context.Context, ct *domain.CreditTransaction) error {
	const q = `INSERT INTO credit_transactions (id, customer_id, reference_id, type, amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(ctx, q,
		ct.ID, ct.CustomerID, ct.ReferenceID, string(ct.Type), ct.Amount,
		t.dialect.bindTime(ct.CreatedAt),
	); err != nil {
		return fmt.Errorf("ledger: insert credit transaction %q: %w", ct.ID, err)
	}
	return nil
}

// CreditTransactionByReference finds the newest ledger row of one type for
// an order. Idempotent re-invocations of capture and refund return its ID.
func (t *Tx) CreditTransactionByReference(ctx context.Context, referenceID string, typ domain.CreditTransactionType) (*domain.CreditTransaction, error) {
	const q = `SELECT id, customer_id, reference_id, type, amount, created_at
        FROM credit_transactions WHERE reference_id = $1 AND type = $2
        ORDER BY created_at DESC LIMIT 1`
	var (
		ct        domain.CreditTransaction
		txType    string
		createdAt dbTime
	)
	err := t.tx.QueryRowContext(ctx, q, referenceID, string(typ)).Scan(
		&ct.ID, &ct.CustomerID, &ct.ReferenceID, &txType, &ct.Amount, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load %s transaction for %q: %w", typ, referenceID, err)
	}
	ct.Type = domain.CreditTransactionType(txType)
	ct.CreatedAt = createdAt.Time()
	return &ct, nil
}

// CreditTransactionsByCustomer lists a customer's ledger rows oldest first.
func (s *Store) CreditTransactionsByCustomer(ctx context.Context, customerID string, limit int) ([]domain.CreditTransaction, error) {
	const q = `SELECT id, customer_id, reference_id, type, amount, created_at
        FROM credit_transactions WHERE customer_id = $1
        ORDER BY created_at LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list credit transactions for %q: %w", customerID, err)
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		var (
			ct        domain.CreditTransaction
			txType    string
			createdAt dbTime
		)
		if err := rows.Scan(&ct.ID, &ct.CustomerID, &ct.ReferenceID, &txType, &ct.Amount, &createdAt); err != nil {
			return nil, fmt.Errorf("ledger: scan credit transaction: %w", err)
		}
		ct.Type = domain.CreditTransactionType(txType)
		ct.CreatedAt = createdAt.Time()
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate credit transactions: %w", err)
	}
	return out, nil
}
