package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "job_definitions", "job_instances"} {
		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist after migrations", table)
	}

	var idx int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_job_instances_due'").Scan(&idx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestMigrate(t *testing.T) {
	t.Run("records every migration", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		var versions []string
		rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
		require.NoError(t, err)
		defer rows.Close()
		for rows.Next() {
			var v string
			require.NoError(t, rows.Scan(&v))
			versions = append(versions, v)
		}
		assert.Equal(t, []string{"000", "001"}, versions)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations multiple times should be safe")
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO job_definitions (id, tenant_id, integration_id, integration_type, processor_name, created_at, updated_at)
			VALUES ('d1', 't', 'i', 'jira', 'p', 0, 0)`)
		require.NoError(t, err)

		_, err = db.Exec(`INSERT INTO job_instances (id, definition_id, status, scheduled_start_time, created_at, updated_at)
			VALUES ('j1', 'd1', 'RUNNING', 0, 0, 0)`)
		assert.Error(t, err)
	})

	t.Run("migration errors on closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})
}

func TestEmbeddedMigrationsOrdered(t *testing.T) {
	all, err := embeddedMigrations()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, migration{Version: "000", File: "000_create_schema_migrations.sql"}, all[0])
	assert.Equal(t, "001", all[1].Version)
}

func TestAppliedVersions(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	applied, err := appliedVersions(db)
	require.NoError(t, err)
	assert.Empty(t, applied, "fresh database has no schema_migrations table")

	require.NoError(t, Migrate(db, nil))
	applied, err = appliedVersions(db)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"000": true, "001": true}, applied)
}
