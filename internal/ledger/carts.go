package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

// InsertCart writes a cart together with its line items.
func (t *Tx) InsertCart(ctx context.Context, c *domain.Cart) error {
	const q = `INSERT INTO carts
        (id, customer_id, status, subtotal, discount, tax, shipping, total, order_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	orderID := sql.NullString{String: c.OrderID, Valid: c.OrderID != ""}
	if _, err := t.tx.ExecContext(ctx, q,
		c.ID, c.CustomerID, string(c.Status),
		c.Subtotal, c.Discount, c.Tax, c.Shipping, c.Total,
		orderID, t.dialect.bindTime(c.CreatedAt), t.dialect.bindTime(c.UpdatedAt),
	); err != nil {
		return fmt.Errorf("ledger: insert cart %q: %w", c.ID, err)
	}
	const qi = `INSERT INTO cart_items
        (cart_id, position, product_id, sku, name, quantity, unit_price, line_total)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, it := range c.Items {
		if _, err := t.tx.ExecContext(ctx, qi,
			c.ID, i, it.ProductID, it.SKU, it.Name, it.Quantity, it.UnitPrice, it.LineTotal,
		); err != nil {
			return fmt.Errorf("ledger: insert cart item %d of %q: %w", i, c.ID, err)
		}
	}
	return nil
}

// CartByID loads a cart and its line items in insertion order.
func (t *Tx) CartByID(ctx context.Context, id string) (*domain.Cart, error) {
	const q = `SELECT id, customer_id, status, subtotal, discount, tax, shipping, total, order_id, created_at, updated_at
        FROM carts WHERE id = $1`
	var (
		c         domain.Cart
		status    string
		orderID   sql.NullString
		createdAt dbTime
		updatedAt dbTime
	)
	err := t.tx.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.CustomerID, &status,
		&c.Subtotal, &c.Discount, &c.Tax, &c.Shipping, &c.Total,
		&orderID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load cart %q: %w", id, err)
	}
	c.Status = domain.CartStatus(status)
	c.OrderID = orderID.String
	c.CreatedAt = createdAt.Time()
	c.UpdatedAt = updatedAt.Time()

	items, err := t.cartItems(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

func (t *Tx) cartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	const q = `SELECT product_id, sku, name, quantity, unit_price, line_total
        FROM cart_items WHERE cart_id = $1 ORDER BY position`
	rows, err := t.tx.QueryContext(ctx, q, cartID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load cart items for %q: %w", cartID, err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("ledger: scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate cart items: %w", err)
	}
	return items, nil
}

// MarkCartConverted stamps the cart CONVERTED and links it to the order
// created from it. The unique index on order_id enforces the one-to-one
// linkage even if two conversions race past the status check.
func (t *Tx) MarkCartConverted(ctx context.Context, cartID, orderID string, now time.Time) error {
	const q = `UPDATE carts SET status = $1, order_id = $2, updated_at = $3 WHERE id = $4`
	res, err := t.tx.ExecContext(ctx, q, string(domain.CartStatusConverted), orderID, t.dialect.bindTime(now), cartID)
	if err != nil {
		return fmt.Errorf("ledger: mark cart %q converted: %w", cartID, err)
	}
	return oneRow(res, fmt.Sprintf("ledger: mark cart %q converted", cartID))
}
