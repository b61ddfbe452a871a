package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event payload bodies. Field sets are part of the published contract:
// downstream consumers (inventory reservation, notification dispatch,
// analytics snapshotting) decode these by event type.

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CartID      string          `json:"cart_id"`
	CustomerID  string          `json:"customer_id"`
	ItemCount   int             `json:"item_count"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

type OrderStatusPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	CustomerID  string `json:"customer_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

type CreditReservedPayload struct {
	ReservationID string          `json:"reservation_id"`
	CustomerID    string          `json:"customer_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

type CreditCapturedPayload struct {
	ReservationID string          `json:"reservation_id"`
	TransactionID string          `json:"transaction_id"`
	CustomerID    string          `json:"customer_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type CreditReleasedPayload struct {
	ReservationID string          `json:"reservation_id"`
	CustomerID    string          `json:"customer_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
}

type CreditRefundedPayload struct {
	ReservationID string          `json:"reservation_id"`
	TransactionID string          `json:"transaction_id"`
	CustomerID    string          `json:"customer_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
}
