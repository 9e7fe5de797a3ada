package repository

import (
	"context"
	"testing"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           bunx.NewUUIDv7(),
		Email:        email,
		PasswordHash: "$2a$10$hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestBunUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBunUserRepository(db)
	ctx := context.Background()

	user := newTestUser("alice@example.com")
	require.NoError(t, repo.Create(ctx, user))

	t.Run("get by id and email", func(t *testing.T) {
		byID, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", byID.Email)

		byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		err := repo.Create(ctx, newTestUser("alice@example.com"))
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("update last login", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repo.UpdateLastLogin(ctx, user.ID, at))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastLoginAt)
		assert.True(t, at.Equal(*got.LastLoginAt))
	})
}

func TestBunSessionRepository(t *testing.T) {
	db := setupTestDB(t)
	users := NewBunUserRepository(db)
	repo := NewBunSessionRepository(db)
	ctx := context.Background()

	user := newTestUser("bob@example.com")
	require.NoError(t, users.Create(ctx, user))

	session := &models.Session{
		ID:        bunx.NewUUIDv7(),
		UserID:    user.ID,
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, session))

	got, err := repo.GetByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Nil(t, got.RevokedAt)
	assert.True(t, got.Active(time.Now()))

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Revoke(ctx, session.ID, first))
	require.NoError(t, repo.Revoke(ctx, session.ID, first.Add(time.Minute)))

	got, err = repo.GetByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, first.Equal(*got.RevokedAt), "second revoke keeps the first timestamp")
	assert.False(t, got.Active(time.Now()))

	_, err = repo.GetByTokenHash(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBunEntitlementRepository(t *testing.T) {
	db := setupTestDB(t)
	users := NewBunUserRepository(db)
	repo := NewBunEntitlementRepository(db)
	ctx := context.Background()

	alice := newTestUser("alice@example.com")
	bob := newTestUser("bob@example.com")
	require.NoError(t, users.Create(ctx, alice))
	require.NoError(t, users.Create(ctx, bob))

	datasetA := bunx.NewUUIDv7()
	datasetB := bunx.NewUUIDv7()

	require.NoError(t, repo.Grant(ctx, alice.ID, datasetA))
	require.NoError(t, repo.Grant(ctx, alice.ID, datasetA), "grant is idempotent")
	require.NoError(t, repo.Grant(ctx, alice.ID, datasetB))
	require.NoError(t, repo.Grant(ctx, bob.ID, datasetA))

	ids, err := repo.ListDatasetIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{datasetA, datasetB}, ids)

	claimed, err := repo.Claim(ctx, bob.ID, datasetB)
	require.NoError(t, err)
	assert.False(t, claimed, "datasetB is already held by alice")
	ids, err = repo.ListDatasetIDs(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{datasetA}, ids)

	removed, err := repo.RevokeDataset(ctx, datasetA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	ids, err = repo.ListDatasetIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{datasetB}, ids)

	ids, err = repo.ListDatasetIDs(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	removed, err = repo.RevokeDataset(ctx, datasetA)
	require.NoError(t, err)
	assert.Zero(t, removed, "revoking again is a no-op")

	datasetC := bunx.NewUUIDv7()
	claimed, err = repo.Claim(ctx, bob.ID, datasetC)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.Claim(ctx, bob.ID, datasetC)
	require.NoError(t, err)
	assert.True(t, claimed, "the holder may claim again")
	claimed, err = repo.Claim(ctx, alice.ID, datasetC)
	require.NoError(t, err)
	assert.False(t, claimed)

	ids, err = repo.ListDatasetIDs(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{datasetB}, ids)
}
