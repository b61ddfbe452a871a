package ledger

import (
	"context"
	"fmt"
)

// Migrate applies the schema for the store's backend. Idempotent: every
// statement is IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaPostgres
	if s.dialect == DialectSQLite {
		schema = schemaSQLite
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: apply schema: %w", err)
	}
	return nil
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS customers (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',

    -- Credit line. used_credit is mutated only under a row lock by
    -- reserve/capture/release/refund; available credit is derived.
    credit_limit  NUMERIC(14,2) NOT NULL DEFAULT 0,
    used_credit   NUMERIC(14,2) NOT NULL DEFAULT 0,

    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS carts (
    id           TEXT PRIMARY KEY,
    customer_id  TEXT NOT NULL,
    status       TEXT NOT NULL,
    subtotal     NUMERIC(14,2) NOT NULL DEFAULT 0,
    discount     NUMERIC(14,2) NOT NULL DEFAULT 0,
    tax          NUMERIC(14,2) NOT NULL DEFAULT 0,
    shipping     NUMERIC(14,2) NOT NULL DEFAULT 0,
    total        NUMERIC(14,2) NOT NULL DEFAULT 0,

    -- Set exactly once, when the cart converts. The unique constraint
    -- makes the cart->order mapping one-to-one.
    order_id     TEXT UNIQUE,

    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items (
    id          BIGSERIAL PRIMARY KEY,
    cart_id     TEXT NOT NULL REFERENCES carts(id),
    position    INT NOT NULL,
    product_id  TEXT NOT NULL,
    sku         TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    quantity    INT NOT NULL,
    unit_price  NUMERIC(14,2) NOT NULL,
    line_total  NUMERIC(14,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cart_items_cart ON cart_items(cart_id, position);

CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    order_number     TEXT NOT NULL UNIQUE,
    customer_id      TEXT NOT NULL,
    cart_id          TEXT NOT NULL,
    status           TEXT NOT NULL,
    payment_status   TEXT NOT NULL,

    -- Totals are a verbatim snapshot of the source cart.
    subtotal         NUMERIC(14,2) NOT NULL,
    discount         NUMERIC(14,2) NOT NULL,
    tax              NUMERIC(14,2) NOT NULL,
    shipping         NUMERIC(14,2) NOT NULL,
    grand_total      NUMERIC(14,2) NOT NULL,

    shipping_address TEXT NOT NULL DEFAULT '',
    billing_address  TEXT NOT NULL DEFAULT '',
    notes            TEXT NOT NULL DEFAULT '',
    created_by       TEXT NOT NULL DEFAULT '',
    cancel_reason    TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id          TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(id),
    position    INT NOT NULL,
    product_id  TEXT NOT NULL,
    sku         TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    quantity    INT NOT NULL,
    unit_price  NUMERIC(14,2) NOT NULL,
    line_total  NUMERIC(14,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id, position);

CREATE TABLE IF NOT EXISTS credit_reservations (
    id              TEXT PRIMARY KEY,
    customer_id     TEXT NOT NULL,
    order_id        TEXT NOT NULL,
    amount          NUMERIC(14,2) NOT NULL,
    balance_before  NUMERIC(14,2) NOT NULL,
    balance_after   NUMERIC(14,2) NOT NULL,
    status          TEXT NOT NULL,
    release_reason  TEXT NOT NULL DEFAULT '',
    reserved_at     TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

-- At most one ACTIVE hold per order. A released or expired hold does not
-- block re-funding the same order.
CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_order
    ON credit_reservations(order_id) WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS idx_reservations_expiry
    ON credit_reservations(status, expires_at);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id            TEXT PRIMARY KEY,
    customer_id   TEXT NOT NULL,
    reference_id  TEXT NOT NULL,
    type          TEXT NOT NULL,
    amount        NUMERIC(14,2) NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_tx_customer ON credit_transactions(customer_id, created_at);

CREATE TABLE IF NOT EXISTS outbox_events (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL UNIQUE,
    event_type       TEXT NOT NULL,
    event_version    TEXT NOT NULL,
    event_domain     TEXT NOT NULL,
    topic            TEXT NOT NULL,
    routing_key      TEXT NOT NULL DEFAULT '',
    payload          JSONB NOT NULL,
    correlation_id   TEXT NOT NULL,
    causation_id     TEXT NOT NULL DEFAULT '',
    parent_event_id  TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending',
    attempts         INT NOT NULL DEFAULT 0,
    max_attempts     INT NOT NULL,
    next_attempt_at  TIMESTAMPTZ NOT NULL,
    occurred_at      TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    published_at     TIMESTAMPTZ,
    failed_at        TIMESTAMPTZ,
    error_message    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outbox_dispatch ON outbox_events(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_correlation ON outbox_events(correlation_id, occurred_at);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id                TEXT NOT NULL,
    consumer_name           TEXT NOT NULL,
    status                  TEXT NOT NULL,
    result                  TEXT NOT NULL DEFAULT '',
    error_message           TEXT NOT NULL DEFAULT '',
    processing_duration_ms  BIGINT NOT NULL DEFAULT 0,
    processed_at            TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (event_id, consumer_name)
);

CREATE TABLE IF NOT EXISTS order_number_counters (
    day      TEXT PRIMARY KEY,
    counter  BIGINT NOT NULL
);
`

// SQLite variant of the same schema. Times are fixed-width RFC3339 TEXT,
// money columns are TEXT holding exact decimal strings.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS customers (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    credit_limit  TEXT NOT NULL DEFAULT '0',
    used_credit   TEXT NOT NULL DEFAULT '0',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS carts (
    id           TEXT PRIMARY KEY,
    customer_id  TEXT NOT NULL,
    status       TEXT NOT NULL,
    subtotal     TEXT NOT NULL DEFAULT '0',
    discount     TEXT NOT NULL DEFAULT '0',
    tax          TEXT NOT NULL DEFAULT '0',
    shipping     TEXT NOT NULL DEFAULT '0',
    total        TEXT NOT NULL DEFAULT '0',
    order_id     TEXT UNIQUE,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cart_id     TEXT NOT NULL REFERENCES carts(id),
    position    INTEGER NOT NULL,
    product_id  TEXT NOT NULL,
    sku         TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    quantity    INTEGER NOT NULL,
    unit_price  TEXT NOT NULL,
    line_total  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cart_items_cart ON cart_items(cart_id, position);

CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    order_number     TEXT NOT NULL UNIQUE,
    customer_id      TEXT NOT NULL,
    cart_id          TEXT NOT NULL,
    status           TEXT NOT NULL,
    payment_status   TEXT NOT NULL,
    subtotal         TEXT NOT NULL,
    discount         TEXT NOT NULL,
    tax              TEXT NOT NULL,
    shipping         TEXT NOT NULL,
    grand_total      TEXT NOT NULL,
    shipping_address TEXT NOT NULL DEFAULT '',
    billing_address  TEXT NOT NULL DEFAULT '',
    notes            TEXT NOT NULL DEFAULT '',
    created_by       TEXT NOT NULL DEFAULT '',
    cancel_reason    TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id          TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(id),
    position    INTEGER NOT NULL,
    product_id  TEXT NOT NULL,
    sku         TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    quantity    INTEGER NOT NULL,
    unit_price  TEXT NOT NULL,
    line_total  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id, position);

CREATE TABLE IF NOT EXISTS credit_reservations (
    id              TEXT PRIMARY KEY,
    customer_id     TEXT NOT NULL,
    order_id        TEXT NOT NULL,
    amount          TEXT NOT NULL,
    balance_before  TEXT NOT NULL,
    balance_after   TEXT NOT NULL,
    status          TEXT NOT NULL,
    release_reason  TEXT NOT NULL DEFAULT '',
    reserved_at     TEXT NOT NULL,
    expires_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_order
    ON credit_reservations(order_id) WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS idx_reservations_expiry
    ON credit_reservations(status, expires_at);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id            TEXT PRIMARY KEY,
    customer_id   TEXT NOT NULL,
    reference_id  TEXT NOT NULL,
    type          TEXT NOT NULL,
    amount        TEXT NOT NULL,
    created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_tx_customer ON credit_transactions(customer_id, created_at);

CREATE TABLE IF NOT EXISTS outbox_events (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL UNIQUE,
    event_type       TEXT NOT NULL,
    event_version    TEXT NOT NULL,
    event_domain     TEXT NOT NULL,
    topic            TEXT NOT NULL,
    routing_key      TEXT NOT NULL DEFAULT '',
    payload          TEXT NOT NULL,
    correlation_id   TEXT NOT NULL,
    causation_id     TEXT NOT NULL DEFAULT '',
    parent_event_id  TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending',
    attempts         INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL,
    next_attempt_at  TEXT NOT NULL,
    occurred_at      TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    published_at     TEXT,
    failed_at        TEXT,
    error_message    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outbox_dispatch ON outbox_events(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_outbox_correlation ON outbox_events(correlation_id, occurred_at);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id                TEXT NOT NULL,
    consumer_name           TEXT NOT NULL,
    status                  TEXT NOT NULL,
    result                  TEXT NOT NULL DEFAULT '',
    error_message           TEXT NOT NULL DEFAULT '',
    processing_duration_ms  INTEGER NOT NULL DEFAULT 0,
    processed_at            TEXT NOT NULL,
    PRIMARY KEY (event_id, consumer_name)
);

CREATE TABLE IF NOT EXISTS order_number_counters (
    day      TEXT PRIMARY KEY,
    counter  INTEGER NOT NULL
);
`
