package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/uptrace/bun"
)

// BunDatasetRepository implements DatasetRepository using Bun ORM.
//
// Every sub-entity mutation is a single statement keyed by dataset id plus the
// sub-entity key (image id, url or model name), so updates to different
// datasets never interfere and a list is never visible half-modified.
type BunDatasetRepository struct {
	db *bun.DB
	q  bun.IDB
}

// NewBunDatasetRepository creates a new Bun-based dataset repository
func NewBunDatasetRepository(db *bun.DB) *BunDatasetRepository {
	return &BunDatasetRepository{db: db, q: db}
}

// RunInTx runs fn with a store bound to a single transaction.
func (r *BunDatasetRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx DatasetStore) error) error {
	if _, inTx := r.q.(bun.Tx); inTx {
		return fn(ctx, r)
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &BunDatasetRepository{db: r.db, q: tx})
	})
}

// Create inserts the dataset row. A duplicate name yields apperr.ErrConflict.
func (r *BunDatasetRepository) Create(ctx context.Context, dataset *models.Dataset) error {
	_, err := r.q.NewInsert().
		Model(dataset).
		Exec(ctx)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("dataset named %q already exists: %w", dataset.Name, apperr.ErrConflict)
		}
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// GetByID loads the dataset with its images and models in sequence order
func (r *BunDatasetRepository) GetByID(ctx context.Context, id string) (*models.Dataset, error) {
	dataset := new(models.Dataset)
	err := r.q.NewSelect().
		Model(dataset).
		Relation("Images", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Relation("Models", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "dataset %s", id)
	}
	normalize(dataset)
	return dataset, nil
}

// GetHeader loads the dataset row without images or models
func (r *BunDatasetRepository) GetHeader(ctx context.Context, id string) (*models.Dataset, error) {
	dataset := new(models.Dataset)
	err := r.q.NewSelect().
		Model(dataset).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "dataset %s", id)
	}
	return dataset, nil
}

// List returns public datasets plus the entitled ones, oldest first
func (r *BunDatasetRepository) List(ctx context.Context, filter ListFilter) ([]*models.Dataset, error) {
	datasets := make([]*models.Dataset, 0)
	q := r.q.NewSelect().
		Model(&datasets).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("is_public = ?", true)
			if len(filter.EntitledIDs) > 0 {
				q = q.WhereOr("id IN (?)", bun.In(filter.EntitledIDs))
			}
			return q
		}).
		Order("created_at ASC", "id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return datasets, nil
}

// Delete removes the dataset with its images and models
func (r *BunDatasetRepository) Delete(ctx context.Context, id string) error {
	return r.RunInTx(ctx, func(ctx context.Context, tx DatasetStore) error {
		store := tx.(*BunDatasetRepository)

		if _, err := store.q.NewDelete().Model((*models.Image)(nil)).Where("dataset_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete dataset images: %w", err)
		}
		if _, err := store.q.NewDelete().Model((*models.Model)(nil)).Where("dataset_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete dataset models: %w", err)
		}

		result, err := store.q.NewDelete().Model((*models.Dataset)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}
		return requireRow(result, "dataset %s", id)
	})
}

// ListImages returns the dataset's images in sequence order
func (r *BunDatasetRepository) ListImages(ctx context.Context, datasetID string) ([]*models.Image, error) {
	images := make([]*models.Image, 0)
	err := r.q.NewSelect().
		Model(&images).
		Where("dataset_id = ?", datasetID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// AddImage appends the image at the end of the sequence in one statement
func (r *BunDatasetRepository) AddImage(ctx context.Context, image *models.Image) (*models.Image, bool, error) {
	if image.BoundingBoxes == nil {
		image.BoundingBoxes = models.BoundingBoxes{}
	}

	result, err := r.q.NewInsert().
		Model(image).
		Value("position", "(SELECT COALESCE(MAX(position), 0) + 1 FROM dataset_images WHERE dataset_id = ?)", image.DatasetID).
		On("CONFLICT (dataset_id, url) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("insert image: %w", err)
	}

	created, err := affected(result)
	if err != nil {
		return nil, false, err
	}

	stored := new(models.Image)
	err = r.q.NewSelect().
		Model(stored).
		Where("dataset_id = ?", image.DatasetID).
		Where("url = ?", image.URL).
		Scan(ctx)
	if err != nil {
		return nil, false, notFound(err, "image %s", image.URL)
	}
	return stored, created, nil
}

// RemoveImage deletes the image whose url matches
func (r *BunDatasetRepository) RemoveImage(ctx context.Context, datasetID, url string) error {
	result, err := r.q.NewDelete().
		Model((*models.Image)(nil)).
		Where("dataset_id = ?", datasetID).
		Where("url = ?", url).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove image: %w", err)
	}
	return requireRow(result, "image %s in dataset %s", url, datasetID)
}

// UpdateBoundingBoxes replaces the image's boxes in a single update
func (r *BunDatasetRepository) UpdateBoundingBoxes(ctx context.Context, datasetID, imageID string, boxes models.BoundingBoxes) error {
	if boxes == nil {
		boxes = models.BoundingBoxes{}
	}
	result, err := r.q.NewUpdate().
		Model((*models.Image)(nil)).
		Set("bounding_boxes = ?", boxes).
		Where("dataset_id = ?", datasetID).
		Where("id = ?", imageID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update bounding boxes: %w", err)
	}
	return requireRow(result, "image %s in dataset %s", imageID, datasetID)
}

// AddModel inserts the model, or overwrites the same-named model keeping its
// id and position.
func (r *BunDatasetRepository) AddModel(ctx context.Context, model *models.Model) (*models.Model, error) {
	if model.HyperParameters == nil {
		model.HyperParameters = models.HyperParameters{}
	}

	_, err := r.q.NewInsert().
		Model(model).
		Value("position", "(SELECT COALESCE(MAX(position), 0) + 1 FROM dataset_models WHERE dataset_id = ?)", model.DatasetID).
		On("CONFLICT (dataset_id, name) DO UPDATE").
		Set("hyper_parameters = EXCLUDED.hyper_parameters").
		Set("status = EXCLUDED.status").
		Set("files = EXCLUDED.files").
		Set("message = EXCLUDED.message").
		Set("job_id = EXCLUDED.job_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert model: %w", err)
	}

	return r.GetModel(ctx, model.DatasetID, model.Name)
}

// RemoveModel deletes the model by name
func (r *BunDatasetRepository) RemoveModel(ctx context.Context, datasetID, name string) (bool, error) {
	result, err := r.q.NewDelete().
		Model((*models.Model)(nil)).
		Where("dataset_id = ?", datasetID).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("remove model: %w", err)
	}
	return affected(result)
}

// GetModel loads one model by name
func (r *BunDatasetRepository) GetModel(ctx context.Context, datasetID, name string) (*models.Model, error) {
	model := new(models.Model)
	err := r.q.NewSelect().
		Model(model).
		Where("dataset_id = ?", datasetID).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "model %s in dataset %s", name, datasetID)
	}
	return model, nil
}

// CompleteModel moves a PENDING model to its terminal status. The status
// predicate makes the update a conditional find-and-modify: replays and
// completions for models that were retrained under another job change nothing.
func (r *BunDatasetRepository) CompleteModel(ctx context.Context, c ModelCompletion) (bool, error) {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	q := r.q.NewUpdate().
		Model((*models.Model)(nil)).
		Set("status = ?", c.Status).
		Set("files = ?", c.Files).
		Set("message = ?", c.Message).
		Set("updated_at = ?", at).
		Where("dataset_id = ?", c.DatasetID).
		Where("name = ?", c.Name).
		Where("status = ?", models.ModelStatusPending)
	if c.JobID != "" {
		q = q.Where("job_id = ?", c.JobID)
	}

	result, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("complete model: %w", err)
	}
	return affected(result)
}

func normalize(dataset *models.Dataset) {
	if dataset.Images == nil {
		dataset.Images = []*models.Image{}
	}
	if dataset.Models == nil {
		dataset.Models = []*models.Model{}
	}
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

func requireRow(result sql.Result, format string, args ...any) error {
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(sql.ErrNoRows, format, args...)
	}
	return nil
}
