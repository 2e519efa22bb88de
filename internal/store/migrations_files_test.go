package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsPairsRepositoryFiles(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001_documents", migrations[0].ID())
	assert.Equal(t, "0002_documents_search", migrations[1].ID())
	for _, m := range migrations {
		assert.FileExists(t, m.Up)
		assert.FileExists(t, m.Down)
	}
}

func TestLoadMigrationsRejectsBadLayouts(t *testing.T) {
	cases := map[string][]string{
		"missing down":   {"0001_documents.up.sql"},
		"gap":            {"0001_documents.up.sql", "0001_documents.down.sql", "0003_search.up.sql", "0003_search.down.sql"},
		"unnumbered":     {"documents.up.sql"},
		"name mismatch":  {"0001_documents.up.sql", "0001_docs.down.sql"},
		"starts above 1": {"0002_documents.up.sql", "0002_documents.down.sql"},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("SELECT 1;"), 0o600))
			}
			_, err := LoadMigrations(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadMigrationsIgnoresNonSQLFiles(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"0001_documents.up.sql", "0001_documents.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("SELECT 1;"), 0o600))
	}
	migrations, err := LoadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 1)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "documents", migrations[0].Name)
}
