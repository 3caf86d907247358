package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/db"
	"mapline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	first, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first, 1)

	again, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	var rows int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&rows))
	assert.Equal(t, 1, rows)

	var tables int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('subprocesses','api_keys')`).Scan(&tables))
	assert.Equal(t, 2, tables)
}
