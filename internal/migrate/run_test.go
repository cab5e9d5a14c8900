package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesOrdering(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_items.sql": {Data: []byte("SELECT 2")},
		"migrations/0001_jobs.sql":  {Data: []byte("SELECT 1")},
		"migrations/README.md":      {Data: []byte("notes")},
		"migrations/old/0000.sql":   {Data: []byte("SELECT 0")},
	}

	files, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_jobs.sql", "0002_items.sql"}, files)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := migrationFiles(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_catalogue_jobs", version(files[0]))

	for _, f := range files {
		body, readErr := migrationsFS.ReadFile("migrations/" + f)
		require.NoError(t, readErr)
		assert.NotEmpty(t, body, f)
	}
}
