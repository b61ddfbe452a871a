package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of business error codes surfaced by the
// settlement core. The API layer maps kinds to HTTP status codes; the
// transaction manager uses them to tell business failures (never retried)
// apart from transient infrastructure errors (retried with backoff).
type ErrorKind string

const (
	ErrCartNotFound           ErrorKind = "CART_NOT_FOUND"
	ErrCartNotActive          ErrorKind = "CART_NOT_ACTIVE"
	ErrCartOwnerMismatch      ErrorKind = "CART_OWNER_MISMATCH"
	ErrEmptyCart              ErrorKind = "EMPTY_CART"
	ErrCustomerNotFound       ErrorKind = "CUSTOMER_NOT_FOUND"
	ErrOrderNotFound          ErrorKind = "ORDER_NOT_FOUND"
	ErrInvalidAmount          ErrorKind = "INVALID_AMOUNT"
	ErrInsufficientCredit     ErrorKind = "INSUFFICIENT_CREDIT"
	ErrDuplicateReservation   ErrorKind = "DUPLICATE_RESERVATION"
	ErrReservationNotFound    ErrorKind = "RESERVATION_NOT_FOUND"
	ErrReservationNotActive   ErrorKind = "RESERVATION_NOT_ACTIVE"
	ErrReservationNotCaptured ErrorKind = "RESERVATION_NOT_CAPTURED"
	ErrInvalidTransition      ErrorKind = "INVALID_STATUS_TRANSITION"
)

// Error is a business error with a stable machine-readable kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds a domain error.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is (or wraps) a domain error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// KindOf extracts the error kind, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
