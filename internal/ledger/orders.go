package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

// InsertOrder writes an order and its item snapshot.
func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order, items []domain.OrderItem) error {
	const q = `INSERT INTO orders
        (id, order_number, customer_id, cart_id, status, payment_status,
         subtotal, discount, tax, shipping, grand_total,
         shipping_address, billing_address, notes, created_by, cancel_reason,
         created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	if _, err := t.tx.ExecContext(ctx, q,
		o.ID, o.OrderNumber, o.CustomerID, o.CartID, string(o.Status), string(o.PaymentStatus),
		o.Subtotal, o.Discount, o.Tax, o.Shipping, o.GrandTotal,
		o.ShippingAddress, o.BillingAddress, o.Notes, o.CreatedBy, o.CancelReason,
		t.dialect.bindTime(o.CreatedAt), t.dialect.bindTime(o.UpdatedAt),
	); err != nil {
		return fmt.Errorf("ledger: insert order %q: %w", o.ID, err)
	}
	const qi = `INSERT INTO order_items
        (id, order_id, position, product_id, sku, name, quantity, unit_price, line_total)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for i, it := range items {
		if _, err := t.tx.ExecContext(ctx, qi,
			it.ID, o.ID, i, it.ProductID, it.SKU, it.Name, it.Quantity, it.UnitPrice, it.LineTotal,
		); err != nil {
			return fmt.Errorf("ledger: insert order item %d of %q: %w", i, o.ID, err)
		}
	}
	return nil
}

// OrderByID loads one order without its items.
func (t *Tx) OrderByID(ctx context.Context, id string) (*domain.Order, error) {
	const q = `SELECT id, order_number, customer_id, cart_id, status, payment_status,
        subtotal, discount, tax, shipping, grand_total,
        shipping_address, billing_address, notes, created_by, cancel_reason,
        created_at, updated_at
        FROM orders WHERE id = $1`
	var (
		o             domain.Order
		status        string
		paymentStatus string
		createdAt     dbTime
		updatedAt     dbTime
	)
	err := t.tx.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.CartID, &status, &paymentStatus,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Shipping, &o.GrandTotal,
		&o.ShippingAddress, &o.BillingAddress, &o.Notes, &o.CreatedBy, &o.CancelReason,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load order %q: %w", id, err)
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.CreatedAt = createdAt.Time()
	o.UpdatedAt = updatedAt.Time()
	return &o, nil
}

// OrderItems loads an order's item snapshot in insertion order.
func (t *Tx) OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	const q = `SELECT id, order_id, product_id, sku, name, quantity, unit_price, line_total
        FROM order_items WHERE order_id = $1 ORDER BY position`
	rows, err := t.tx.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load order items for %q: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("ledger: scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate order items: %w", err)
	}
	return items, nil
}

// UpdateOrderStatus sets the order status, and the cancel reason when the
// new status is CANCELLED. Transition legality is the caller's job.
func (t *Tx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, cancelReason string, now time.Time) error {
	const q = `UPDATE orders SET status = $1, cancel_reason = $2, updated_at = $3 WHERE id = $4`
	res, err := t.tx.ExecContext(ctx, q, string(status), cancelReason, t.dialect.bindTime(now), orderID)
	if err != nil {
		return fmt.Errorf("ledger: update order %q status: %w", orderID, err)
	}
	return oneRow(res, fmt.Sprintf("ledger: update order %q status", orderID))
}

func (t *Tx) UpdateOrderPaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, now time.Time) error {
	const q = `UPDATE orders SET payment_status = $1, updated_at = $2 WHERE id = $3`
	res, err := t.tx.ExecContext(ctx, q, string(status), t.dialect.bindTime(now), orderID)
	if err != nil {
		return fmt.Errorf("ledger: update order %q payment status: %w", orderID, err)
	}
	return oneRow(res, fmt.Sprintf("ledger: update order %q payment status", orderID))
}

// NextOrderSequence increments and returns the per-day order counter. The
// upsert keeps the row hot under concurrency; ties are broken by the
// backend's own row locking.
func (t *Tx) NextOrderSequence(ctx context.Context, day string) (int64, error) {
	q := `INSERT INTO order_number_counters (day, counter) VALUES ($1, 1)
        ON CONFLICT (day) DO UPDATE SET counter = order_number_counters.counter + 1
        RETURNING counter`
	if t.dialect == DialectSQLite {
		q = `INSERT INTO order_number_counters (day, counter) VALUES ($1, 1)
            ON CONFLICT (day) DO UPDATE SET counter = counter + 1
            RETURNING counter`
	}
	var n int64
	if err := t.tx.QueryRowContext(ctx, q, day).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: next order sequence for %s: %w", day, err)
	}
	return n, nil
}

// oneRow converts a zero-row UPDATE into ErrNotFound.
func oneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
