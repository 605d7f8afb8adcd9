package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

type migration struct {
	version int
	file    string
}

// migrationSet describes where a dialect keeps its schema files and how it
// records applied versions.
type migrationSet struct {
	dir         string
	createTable string
	record      string
}

// listMigrations returns the {schemaType}_NNN.sql files in dir ordered by
// version.
func listMigrations(schemaFS fs.FS, dir, schemaType string) ([]migration, error) {
	entries, err := fs.ReadDir(schemaFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %s: %w", dir, err)
	}
	prefix := schemaType + "_"
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || path.Ext(name) != ".sql" {
			continue
		}
		out = append(out, migration{version: extractVersion(name, prefix), file: path.Join(dir, name)})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	return out, nil
}

// extractVersion reads the number in "hilo_001.sql"; unparseable names are
// version 0.
func extractVersion(name, prefix string) int {
	v, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".sql"))
	return v
}

func (s migrationSet) apply(ctx context.Context, db *sql.DB, schemaFS fs.FS, schemaType string) error {
	if _, err := db.ExecContext(ctx, s.createTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	migrations, err := listMigrations(schemaFS, s.dir, schemaType)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if done[m.version] {
			continue
		}
		body, err := fs.ReadFile(schemaFS, m.file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}
		if err := s.applyOne(ctx, db, m, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s migrationSet) applyOne(ctx context.Context, db *sql.DB, m migration, body string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.file, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.file, err)
	}
	if _, err = tx.ExecContext(ctx, s.record, m.version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.file, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.file, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}
