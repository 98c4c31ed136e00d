package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"002_add_index.sql":           "CREATE INDEX x ON y (z);",
		"001_initial_schema.sql":      "CREATE TABLE y (z INT);",
		"001_initial_schema_down.sql": "DROP TABLE y;",
		"README.md":                   "not a migration",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial schema", migrations[0].Description)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "add index", migrations[1].Description)
}

func TestLoadMigrations_InvalidName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.sql"), []byte("SELECT 1;"), 0o600))

	_, err := NewMigrator(nil, dir).LoadMigrations()
	assert.Error(t, err)

	_, err = NewMigrator(nil, filepath.Join(dir, "missing")).LoadMigrations()
	assert.Error(t, err)
}

func TestRepositoryMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, "../../migrations").LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS allocations")
}
