// Package db provides persistence for run history and the status event log.
//
// SQLite (.hilo/hilo.db) is the default; PostgreSQL is used when several
// benches report into one lab database.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/randalmurphal/hilo/internal/db/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// SchemaType is the migration file prefix for hilo tables.
const SchemaType = "hilo"

// timeLayout is how timestamps are stored. Fixed width keeps TEXT ordering
// chronological in both dialects.
const timeLayout = "2006-01-02 15:04:05.000000000"

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	path   string
}

// Open opens a SQLite database at the given path and applies migrations.
// Creates the parent directory if it doesn't exist.
func Open(path string) (*DB, error) {
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens a migrated in-memory SQLite database.
// Each call creates a new isolated database.
func OpenInMemory() (*DB, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenWithDialect opens a database with a specific dialect and applies
// migrations.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	d := &DB{driver: drv, path: dsn}
	if err := d.Migrate(context.Background()); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Path returns the database DSN/path.
func (d *DB) Path() string {
	return d.path
}

// Dialect returns the database dialect.
func (d *DB) Dialect() driver.Dialect {
	return d.driver.Dialect()
}

// Migrate runs all pending hilo migrations.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.driver.Migrate(ctx, schemaFS, SchemaType); err != nil {
		return fmt.Errorf("migrate %s: %w", d.driver.Dialect(), err)
	}
	return nil
}

// ExecContext executes a query without returning rows.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(ctx, query, args...)
}

// QueryRowContext executes a query that returns at most one row.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.driver.QueryRow(ctx, query, args...)
}

// RunInTx runs fn in a transaction, committing when it returns nil.
func (d *DB) RunInTx(ctx context.Context, fn func(tx driver.Tx) error) error {
	tx, err := d.driver.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
