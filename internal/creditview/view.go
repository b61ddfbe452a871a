// Package creditview serves customer credit status reads with a short
// Redis cache in front of the ledger. The cache is write-around: credit
// mutations land in the ledger, and the matching credit.* events knock the
// stale entry out via the invalidation consumer. The TTL bounds staleness
// even if an invalidation is lost.
package creditview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/inbox"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/cache"
)

// DefaultTTL bounds how stale a cached credit status can get.
const DefaultTTL = 30 * time.Second

const cacheOperation = "credit_status"

// Status is the read-model row served to callers.
type Status struct {
	CustomerID             string          `json:"customer_id"`
	CreditLimit            decimal.Decimal `json:"credit_limit"`
	UsedCredit             decimal.Decimal `json:"used_credit"`
	AvailableCredit        decimal.Decimal `json:"available_credit"`
	ActiveReservationCount int             `json:"active_reservation_count"`
	AsOf                   time.Time       `json:"as_of"`
}

// View is the cached credit-status reader.
type View struct {
	store *ledger.Store
	cache cache.Cache
	ttl   time.Duration
}

func New(store *ledger.Store, c cache.Cache, ttl time.Duration) *View {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &View{store: store, cache: c, ttl: ttl}
}

// GetCreditStatus returns the customer's credit line, cached for the TTL.
// Cache trouble degrades to a ledger read, never to an error.
func (v *View) GetCreditStatus(ctx context.Context, customerID string) (*Status, error) {
	key := v.cache.GenerateKey(cacheOperation, customerID)
	cached, err := v.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "credit status cache read failed",
			slog.String("customer_id", customerID), slog.String("error", err.Error()))
	}
	if cached != "" {
		var st Status
		if err := json.Unmarshal([]byte(cached), &st); err == nil {
			return &st, nil
		}
	}

	customer, err := v.store.CustomerByID(ctx, customerID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, domain.E(domain.ErrCustomerNotFound, "customer %s", customerID)
	}
	if err != nil {
		return nil, err
	}
	active, err := v.store.CountActiveReservations(ctx, customerID)
	if err != nil {
		return nil, err
	}
	st := &Status{
		CustomerID:             customer.ID,
		CreditLimit:            customer.CreditLimit,
		UsedCredit:             customer.UsedCredit,
		AvailableCredit:        customer.AvailableCredit(),
		ActiveReservationCount: active,
		AsOf:                   time.Now().UTC(),
	}
	if body, err := json.Marshal(st); err == nil {
		if err := v.cache.Set(ctx, key, body, v.ttl); err != nil {
			slog.WarnContext(ctx, "credit status cache write failed",
				slog.String("customer_id", customerID), slog.String("error", err.Error()))
		}
	}
	return st, nil
}

// Invalidate drops the cached status for a customer. Best effort: the TTL
// covers a lost delete.
func (v *View) Invalidate(ctx context.Context, customerID string) {
	key := v.cache.GenerateKey(cacheOperation, customerID)
	if err := v.cache.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "credit status cache invalidation failed",
			slog.String("customer_id", customerID), slog.String("error", err.Error()))
	}
}

// InvalidationHandler adapts the view into an inbox handler that drops the
// cached status whenever a credit.* event for the customer lands.
func (v *View) InvalidationHandler() inbox.EventHandler {
	return func(ctx context.Context, _ *ledger.Tx, env domain.Envelope) (string, error) {
		var p struct {
			CustomerID string `json:"customer_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", fmt.Errorf("creditview: decode %s payload: %w", env.EventType, err)
		}
		if p.CustomerID == "" {
			return "no customer in payload", nil
		}
		v.Invalidate(ctx, p.CustomerID)
		return "invalidated " + p.CustomerID, nil
	}
}
