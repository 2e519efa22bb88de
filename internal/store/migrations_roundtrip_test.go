package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STRATEGY_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("STRATEGY_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir, nil), "up pass 1")
	assert.Equal(t, []string{"0001_documents", "0002_documents_search"}, appliedVersions(ctx, t, db))
	assert.True(t, tableExists(ctx, t, db, "documents"))
	assert.True(t, tableExists(ctx, t, db, "collection_seq"))

	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir, nil), "re-applying is a no-op")

	require.NoError(t, RollbackMigrations(ctx, db, migrationsDir, nil))
	assert.Empty(t, appliedVersions(ctx, t, db))
	assert.False(t, tableExists(ctx, t, db, "documents"))

	require.NoError(t, ApplyMigrations(ctx, db, migrationsDir, nil), "up pass 2")
	assert.True(t, tableExists(ctx, t, db, "documents"))
}

func appliedVersions(ctx context.Context, t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT to_regclass('public.' || $1) IS NOT NULL`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}
