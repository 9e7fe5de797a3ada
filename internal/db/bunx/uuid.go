package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for primary keys.
//
// Ids are generated in Go rather than by the database so the same schema runs on
// PostgreSQL and SQLite, and so creation order can be recovered from the id.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
