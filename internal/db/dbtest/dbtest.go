// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/migrations"
)

// Open returns an in-memory SQLite database with every migration applied. It
// is closed when the test ends.
func Open(t testing.TB) *bun.DB {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	return db
}
