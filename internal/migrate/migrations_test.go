package migrate_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/db"
	"bulletin/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	v1, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, v1)

	v2, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM blobs`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestStepsOrdered(t *testing.T) {
	steps, err := migrate.Steps()
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "0001_blobs.sql", steps[0].Name)
	assert.Equal(t, "0002_commit_sequence.sql", steps[1].Name)
	for i := 1; i < len(steps); i++ {
		assert.Less(t, steps[i-1].Version, steps[i].Version)
	}
}
