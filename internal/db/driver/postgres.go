package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
)

// PostgresDriver serves a lab database shared by several benches.
type PostgresDriver struct {
	conn
}

// NewPostgres returns an unopened PostgreSQL driver.
func NewPostgres() *PostgresDriver {
	return &PostgresDriver{conn: conn{rebind: dollarParams}}
}

var postgresMigrations = migrationSet{
	dir: "schema/postgres",
	createTable: `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,
	record: "INSERT INTO _migrations (version) VALUES ($1)",
}

// Open connects to dsn and checks the server is reachable.
func (d *PostgresDriver) Open(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	d.db = db
	return nil
}

// Migrate applies schema/postgres/{type}_NNN.sql.
func (d *PostgresDriver) Migrate(ctx context.Context, schemaFS fs.FS, schemaType string) error {
	return postgresMigrations.apply(ctx, d.db, schemaFS, schemaType)
}

func (d *PostgresDriver) Dialect() Dialect { return DialectPostgres }
