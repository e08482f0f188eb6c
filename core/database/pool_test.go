package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(filepath.Join(t.TempDir(), "usagi.db"), DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestOpen_CreatesDatabase(t *testing.T) {
	pool := openTestPool(t)
	require.NoError(t, pool.IntegrityCheck())
}

func TestMigrator_AppliesAllMigrations(t *testing.T) {
	pool := openTestPool(t)

	m := NewMigrator(pool, Migrations())
	require.NoError(t, m.Migrate(context.Background()))

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	pending, err := m.PendingMigrations()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Schema tables should exist.
	for _, table := range []string{"sessions", "conversation_turns", "vocabulary", "highlights", "analysis_jobs", "daily_summaries"} {
		var name string
		err := pool.QueryRow(context.Background(),
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}

func TestMigrator_Idempotent(t *testing.T) {
	pool := openTestPool(t)

	m := NewMigrator(pool, Migrations())
	require.NoError(t, m.Migrate(context.Background()))
	require.NoError(t, m.Migrate(context.Background()))
}

func TestPool_Transaction_RollsBackOnError(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	require.NoError(t, NewMigrator(pool, Migrations()).Migrate(ctx))

	err := pool.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO sessions (id, started_at, last_activity) VALUES ('s1', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)",
		); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count))
	assert.Equal(t, 0, count)
}
