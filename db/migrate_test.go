package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("records every embedded migration", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		versions, err := AppliedMigrations(db)
		require.NoError(t, err)
		assert.Equal(t, []string{"000", "001", "002", "003"}, versions)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations twice should be safe")

		versions, err := AppliedMigrations(db)
		require.NoError(t, err)
		assert.Len(t, versions, 4)
	})

	t.Run("closed database fails", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})

	t.Run("fact_history accepts a row", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO fact_history
			(sequence, id, entity_type, entity_id, field, value, source, confidence, importance, created_at, updated_at)
			VALUES (1, 'abc', 'drug', 'ozempic', 'tier', '3', 'test', 0.9, 8, datetime('now'), datetime('now'))`)
		require.NoError(t, err)
	})
}
