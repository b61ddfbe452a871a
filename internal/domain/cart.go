package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"
	CartStatusConverted CartStatus = "CONVERTED"
	CartStatusAbandoned CartStatus = "ABANDONED"
)

// Cart is a fully-priced shopping cart handed over by the checkout
// collaborator. The settlement core never recomputes pricing; it only
// snapshots the cart into an order and flips the status to CONVERTED.
type Cart struct {
	ID         string
	CustomerID string
	Status     CartStatus
	Items      []CartItem
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Total      decimal.Decimal
	// OrderID is set exactly when Status is CONVERTED.
	OrderID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Convertible reports whether the cart can still become an order.
func (c *Cart) Convertible() bool {
	return c.Status == CartStatusActive && c.OrderID == ""
}
