// Package sqlite opens the embedded ledger backend.
//
// WAL mode is enabled on Open so the relay and sweep goroutines can read
// while a settlement transaction writes. The single writer connection plus
// busy_timeout stand in for the row locks the PostgreSQL backend uses.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"

	// Register the pure-Go SQLite driver. No CGO, so cross-compiles and
	// Alpine images stay simple.
	_ "modernc.org/sqlite"
)

// Open opens (or creates) the SQLite database at the given path, applies
// the schema and returns the ready store. Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*ledger.Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// The modernc driver registers as "sqlite", not "sqlite3".
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection; funneling all
	// access through one connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	store := ledger.New(db, ledger.DialectSQLite)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
