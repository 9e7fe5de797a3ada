package repository

import (
	"testing"

	"github.com/uptrace/bun"

	"github.com/boxhub/boxhub/internal/db/dbtest"
)

// setupTestDB opens a migrated in-memory SQLite database.
func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()
	return dbtest.Open(t)
}
