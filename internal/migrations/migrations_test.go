package migrations

import (
	"context"
	"testing"

	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	defer bunx.Close(db)

	assert.True(t, IsSQLite(db))
	assert.False(t, IsPostgreSQL(db))

	group, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.NotZero(t, group.ID)

	for _, table := range []string{"users", "sessions", "user_entitlements", "datasets", "dataset_images", "dataset_models"} {
		var count int
		err := db.NewSelect().
			TableExpr("sqlite_master").
			ColumnExpr("count(*)").
			Where("type = 'table' AND name = ?", table).
			Scan(ctx, &count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	t.Run("second apply is a no-op", func(t *testing.T) {
		group, err := Apply(ctx, db)
		require.NoError(t, err)
		assert.Zero(t, group.ID)
	})
}
