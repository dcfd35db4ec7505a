// Package db opens the SQL databases backing the travel cache and the problem store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Open connects to url with the given driver ("pgx" or "sqlite") and checks
// the connection.
func Open(ctx context.Context, driver, url string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	case "postgres":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("openDB: unknown driver %q", driver)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("openDB: open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("openDB: verify %s connection: %w", driver, err)
	}

	return db, nil
}
