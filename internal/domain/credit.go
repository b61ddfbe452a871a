package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReservationTTL is how long a credit hold stays ACTIVE before the
// expiry sweep releases it.
const DefaultReservationTTL = 30 * time.Minute

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationCaptured ReservationStatus = "CAPTURED"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationActive:   {ReservationCaptured, ReservationReleased, ReservationExpired},
	ReservationCaptured: {},
	ReservationReleased: {},
	ReservationExpired:  {},
}

func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CreditReservation is a temporary hold against a customer's credit line.
// While ACTIVE its amount is included in the customer's usedCredit; the hold
// is later captured into a ledger charge or released back to the line,
// never both.
type CreditReservation struct {
	ID            string
	CustomerID    string
	OrderID       string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Status        ReservationStatus
	ReleaseReason string
	ReservedAt    time.Time
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

type CreditTransactionType string

const (
	CreditTxReserve CreditTransactionType = "RESERVE"
	CreditTxCapture CreditTransactionType = "CAPTURE"
	CreditTxRelease CreditTransactionType = "RELEASE"
	CreditTxRefund  CreditTransactionType = "REFUND"
)

// CreditTransaction is one append-only ledger row. Every mutation of a
// customer's credit line writes exactly one.
type CreditTransaction struct {
	ID         string
	CustomerID string
	// ReferenceID is the order the mutation belongs to.
	ReferenceID string
	Type        CreditTransactionType
	Amount      decimal.Decimal
	CreatedAt   time.Time
}
