package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "modernc.org/sqlite" // registers "sqlite"
)

// SQLiteDriver is the default single-bench history database.
type SQLiteDriver struct {
	conn
}

// NewSQLite returns an unopened SQLite driver.
func NewSQLite() *SQLiteDriver {
	return &SQLiteDriver{conn: conn{rebind: keepQuestionMarks}}
}

var sqliteMigrations = migrationSet{
	dir: "schema",
	createTable: `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT DEFAULT (datetime('now'))
	)`,
	record: "INSERT INTO _migrations (version) VALUES (?)",
}

// Open opens the database file at dsn, or ":memory:".
func (d *SQLiteDriver) Open(dsn string) error {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// WAL lets the API server read while the worker writes.
	const pragmas = `
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;`
	if _, err := db.Exec(pragmas); err != nil {
		_ = db.Close()
		return fmt.Errorf("set pragmas: %w", err)
	}
	d.db = db
	return nil
}

// Migrate applies schema/{type}_NNN.sql.
func (d *SQLiteDriver) Migrate(ctx context.Context, schemaFS fs.FS, schemaType string) error {
	return sqliteMigrations.apply(ctx, d.db, schemaFS, schemaType)
}

func (d *SQLiteDriver) Dialect() Dialect { return DialectSQLite }
