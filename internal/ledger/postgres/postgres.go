// Package postgres opens the production ledger backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"

	// Register pgx's database/sql driver under the name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to PostgreSQL with the given DSN, verifies the connection,
// applies the schema and returns the ready store.
func Open(ctx context.Context, dsn string) (*ledger.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := ledger.New(db, ledger.DialectPostgres)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
