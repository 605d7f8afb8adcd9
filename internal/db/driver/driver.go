// Package driver opens the run history database on SQLite or PostgreSQL and
// hides the placeholder differences between the two.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// Dialect names a supported database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Driver is an open database. Query text always uses ? placeholders.
type Driver interface {
	Open(dsn string) error
	Close() error

	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)

	// Migrate applies the {schemaType}_NNN.sql files for this dialect.
	Migrate(ctx context.Context, schemaFS fs.FS, schemaType string) error

	Dialect() Dialect
	Rebind(query string) string
	DB() *sql.DB
}

// Tx is a transaction that rebinds like its driver.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// New returns an unopened driver for the dialect.
func New(dialect Dialect) (Driver, error) {
	switch dialect {
	case DialectSQLite:
		return NewSQLite(), nil
	case DialectPostgres:
		return NewPostgres(), nil
	}
	return nil, fmt.Errorf("unsupported dialect: %s", dialect)
}

// ParseDialect accepts the usual spellings of each dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unknown dialect: %q", s)
}

// conn is the *sql.DB plumbing both drivers share.
type conn struct {
	db     *sql.DB
	rebind func(string) string
}

func (c *conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.rebind(query), args...)
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.rebind(query), args...)
}

func (c *conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.rebind(query), args...)
}

func (c *conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{Tx: tx, rebind: c.rebind}, nil
}

func (c *conn) Rebind(query string) string {
	return c.rebind(query)
}

func (c *conn) DB() *sql.DB {
	return c.db
}

func (c *conn) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type sqlTx struct {
	*sql.Tx
	rebind func(string) string
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.ExecContext(ctx, t.rebind(query), args...)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.QueryContext(ctx, t.rebind(query), args...)
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.QueryRowContext(ctx, t.rebind(query), args...)
}

func keepQuestionMarks(query string) string { return query }

// dollarParams rewrites ? placeholders as $1, $2, ...
func dollarParams(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 2*n)
	i := 0
	for {
		idx := strings.IndexByte(query, '?')
		if idx < 0 {
			b.WriteString(query)
			return b.String()
		}
		i++
		b.WriteString(query[:idx])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i))
		query = query[idx+1:]
	}
}
