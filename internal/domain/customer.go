package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer carries the credit fields this core is allowed to mutate.
// UsedCredit changes only through reserve/capture/release/refund, always
// under a row-level lock; AvailableCredit is derived and never negative.
type Customer struct {
	ID          string
	Name        string
	CreditLimit decimal.Decimal
	UsedCredit  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Customer) AvailableCredit() decimal.Decimal {
	avail := c.CreditLimit.Sub(c.UsedCredit)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}
