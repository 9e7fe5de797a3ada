package repository

import (
	"context"
	"time"

	"github.com/boxhub/boxhub/internal/db/models"
)

// UserRepository exposes persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionRepository tracks issued tokens so they can be superseded or revoked.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	// Revoke marks the session revoked. Revoking twice keeps the first timestamp.
	Revoke(ctx context.Context, id string, at time.Time) error
}

// EntitlementRepository stores the per-user dataset entitlement set.
type EntitlementRepository interface {
	// Grant is idempotent.
	Grant(ctx context.Context, userID, datasetID string) error
	// Claim grants the dataset to userID only while nobody holds it and
	// reports whether userID holds it afterwards.
	Claim(ctx context.Context, userID, datasetID string) (bool, error)
	// RevokeDataset removes the dataset from every user and reports how many
	// entitlements were removed.
	RevokeDataset(ctx context.Context, datasetID string) (int64, error)
	ListDatasetIDs(ctx context.Context, userID string) ([]string, error)
}

// ListFilter selects datasets visible to a caller: every public dataset plus
// the ids in EntitledIDs.
type ListFilter struct {
	EntitledIDs []string
}

// ModelCompletion is the outcome reported by the trainer for one model.
type ModelCompletion struct {
	DatasetID string
	Name      string
	// JobID, when set, restricts the transition to the job that is still pending.
	JobID   string
	Status  models.ModelStatus
	Files   models.ModelFiles
	Message string
	At      time.Time
}

// DatasetStore is the set of dataset operations available both on the
// repository and inside a transaction.
type DatasetStore interface {
	Create(ctx context.Context, dataset *models.Dataset) error
	// GetByID loads the dataset with its images and models in sequence order.
	GetByID(ctx context.Context, id string) (*models.Dataset, error)
	// GetHeader loads the dataset row only.
	GetHeader(ctx context.Context, id string) (*models.Dataset, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Dataset, error)
	Delete(ctx context.Context, id string) error

	ListImages(ctx context.Context, datasetID string) ([]*models.Image, error)
	// AddImage appends the image; an existing url is left untouched and
	// returned with created == false.
	AddImage(ctx context.Context, image *models.Image) (stored *models.Image, created bool, err error)
	RemoveImage(ctx context.Context, datasetID, url string) error
	UpdateBoundingBoxes(ctx context.Context, datasetID, imageID string, boxes models.BoundingBoxes) error

	// AddModel inserts the model or replaces the one with the same name in place.
	AddModel(ctx context.Context, model *models.Model) (*models.Model, error)
	// RemoveModel deletes by name and reports whether a row existed.
	RemoveModel(ctx context.Context, datasetID, name string) (bool, error)
	GetModel(ctx context.Context, datasetID, name string) (*models.Model, error)
	// CompleteModel applies a completion only while the model is PENDING and
	// reports whether a row changed.
	CompleteModel(ctx context.Context, completion ModelCompletion) (bool, error)
}

// DatasetRepository is a DatasetStore that can scope a unit of work in a
// transaction. The transaction is committed when fn returns nil and rolled
// back otherwise, exactly once on every exit path.
type DatasetRepository interface {
	DatasetStore
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx DatasetStore) error) error
}
