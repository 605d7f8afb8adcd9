package driver

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriver(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"invalid", Dialect("invalid"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, err := New(tt.dialect)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, drv.Dialect())
		})
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := NewPostgres()
	assert.Equal(t, "SELECT * FROM runs WHERE id = $1 AND status = $2", pg.Rebind("SELECT * FROM runs WHERE id = ? AND status = ?"))
	assert.Equal(t, "SELECT 1", pg.Rebind("SELECT 1"))
	assert.Equal(t, "VALUES ($1, $2, $3)", pg.Rebind("VALUES (?, ?, ?)"))

	lite := NewSQLite()
	assert.Equal(t, "SELECT ?", lite.Rebind("SELECT ?"))
}

func TestListMigrations(t *testing.T) {
	schema := fstest.MapFS{
		"schema/hilo_010.sql":      {Data: []byte("-- ten")},
		"schema/hilo_002.sql":      {Data: []byte("-- two")},
		"schema/hilo_notes.txt":    {Data: []byte("skip")},
		"schema/postgres/hilo_001": {Data: []byte("skip")},
	}
	got, err := listMigrations(schema, "schema", "hilo")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, migration{version: 2, file: "schema/hilo_002.sql"}, got[0])
	assert.Equal(t, migration{version: 10, file: "schema/hilo_010.sql"}, got[1])

	_, err = listMigrations(schema, "missing", "hilo")
	assert.Error(t, err)
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, 1, extractVersion("hilo_001.sql", "hilo_"))
	assert.Equal(t, 12, extractVersion("hilo_012.sql", "hilo_"))
	assert.Equal(t, 0, extractVersion("hilo_x.sql", "hilo_"))
}

func TestSQLiteMigrate(t *testing.T) {
	ctx := context.Background()
	drv := NewSQLite()
	require.NoError(t, drv.Open(filepath.Join(t.TempDir(), "test.db")))
	defer func() { _ = drv.Close() }()

	schema := fstest.MapFS{
		"schema/demo_001.sql":   {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"schema/demo_002.sql":   {Data: []byte("ALTER TABLE a ADD COLUMN name TEXT;")},
		"schema/other_001.sql":  {Data: []byte("CREATE TABLE ignored (id INTEGER);")},
		"schema/postgres/x.sql": {Data: []byte("not sqlite")},
	}

	require.NoError(t, drv.Migrate(ctx, schema, "demo"))
	// Second run is a no-op.
	require.NoError(t, drv.Migrate(ctx, schema, "demo"))

	_, err := drv.Exec(ctx, "INSERT INTO a (id, name) VALUES (?, ?)", 1, "x")
	require.NoError(t, err)

	var count int
	require.NoError(t, drv.QueryRow(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&count))
	assert.Equal(t, 2, count)

	err = drv.QueryRow(ctx, "SELECT COUNT(*) FROM ignored").Scan(&count)
	assert.Error(t, err, "other schema types are not applied")
}

func TestSQLiteTx(t *testing.T) {
	ctx := context.Background()
	drv := NewSQLite()
	require.NoError(t, drv.Open(":memory:"))
	defer func() { _ = drv.Close() }()

	_, err := drv.Exec(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	tx, err := drv.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO t (v) VALUES (?)", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, drv.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Zero(t, n)
}
