package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "DRAFT"
	OrderStatusConfirmed  OrderStatus = "ORDER_CONFIRMED"
	OrderStatusFulfilling OrderStatus = "FULFILLING"
	OrderStatusFulfilled  OrderStatus = "FULFILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// orderTransitions is the closed transition table for Order.Status.
// Every status mutation goes through CanTransitionTo; there is no ad-hoc
// string assignment anywhere in the core.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:      {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusFulfilling, OrderStatusCancelled},
	OrderStatusFulfilling: {OrderStatusFulfilled},
	OrderStatusFulfilled:  {},
	OrderStatusCancelled:  {},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusReserved PaymentStatus = "RESERVED"
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusReleased PaymentStatus = "RELEASED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// A RELEASED order may be funded again (a hold that expired or was
// released does not strand the order), so RELEASED loops back to RESERVED.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:   {PaymentStatusReserved},
	PaymentStatusReserved: {PaymentStatusCaptured, PaymentStatusReleased},
	PaymentStatusCaptured: {PaymentStatusRefunded},
	PaymentStatusReleased: {PaymentStatusReserved},
	PaymentStatusRefunded: {},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order is the immutable financial snapshot of a converted cart. Totals are
// copied verbatim at conversion time; later price changes never alter a
// placed order.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	CartID          string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	GrandTotal      decimal.Decimal
	ShippingAddress string
	BillingAddress  string
	Notes           string
	CreatedBy       string
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a denormalized snapshot of one cart line. The sum of
// LineTotal over an order's items equals Order.Subtotal.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}
