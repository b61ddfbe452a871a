// Package ledger is the durable storage layer for the settlement core:
// carts, orders, credit reservations, the credit transaction ledger, the
// transactional outbox and the processed-event table.
//
// The store runs on two interchangeable backends. PostgreSQL (via the pgx
// stdlib driver) is the production target and serializes credit mutations
// with SELECT ... FOR UPDATE row locks. SQLite (via modernc.org/sqlite) is
// the embedded target used by tests and single-node deployments; it has no
// row locks, so the store relies on SQLite's single-writer connection and
// busy_timeout instead. Orchestration code never sees the difference: the
// lock lives behind CustomerForUpdate.
//
// All SQL uses $1-style placeholders, which both drivers accept, with each
// placeholder bound exactly once in ascending order.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookup methods when no row matches. Callers
// translate it into the appropriate domain error kind.
var ErrNotFound = errors.New("ledger: not found")

// Dialect selects backend-specific SQL (locking clause, time encoding).
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Isolation is the transaction isolation requested by a unit of work.
// SQLite transactions are always serializable, so anything above default
// maps to the driver default there.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (d Dialect) sqlIsolation(iso Isolation) sql.IsolationLevel {
	if d == DialectSQLite {
		return sql.LevelDefault
	}
	switch iso {
	case IsolationReadCommitted:
		return sql.LevelReadCommitted
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// Store wraps the database handle for one backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an opened database. Use the ledger/postgres or ledger/sqlite
// Open helpers rather than calling this with a raw handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a transaction at the requested isolation and returns the
// transaction-scoped handle all repository methods hang off.
func (s *Store) Begin(ctx context.Context, iso Isolation) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.sqlIsolation(iso)})
	if err != nil {
		return nil, fmt.Errorf("ledger: begin transaction: %w", err)
	}
	return &Tx{tx: tx, dialect: s.dialect}, nil
}

// Tx is a transaction-scoped handle. Business rows and outbox rows written
// through the same Tx commit or roll back together.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// sqliteTimeLayout is a fixed-width UTC encoding so that lexicographic
// ordering of the stored TEXT equals chronological ordering. RFC3339Nano
// trims trailing zeros, which breaks range comparisons.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// bindTime encodes a timestamp for the backend: native for PostgreSQL,
// fixed-width UTC TEXT for SQLite.
func (d Dialect) bindTime(t time.Time) any {
	if d == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (d Dialect) bindTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.bindTime(*t)
}

// dbTime scans a timestamp from either backend: time.Time from PostgreSQL,
// RFC3339 TEXT from SQLite.
type dbTime struct {
	t     time.Time
	valid bool
}

func (v *dbTime) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.valid = false
		return nil
	case time.Time:
		v.t, v.valid = s.UTC(), true
		return nil
	case string:
		return v.parse(s)
	case []byte:
		return v.parse(string(s))
	default:
		return fmt.Errorf("ledger: cannot scan %T into time", src)
	}
}

func (v *dbTime) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("ledger: parse time %q: %w", s, err)
	}
	v.t, v.valid = t.UTC(), true
	return nil
}

func (v *dbTime) Time() time.Time { return v.t }

func (v *dbTime) TimePtr() *time.Time {
	if !v.valid {
		return nil
	}
	t := v.t
	return &t
}
