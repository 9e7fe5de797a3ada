package registry

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/repository"
)

// MaxNameLength bounds dataset names.
const MaxNameLength = 200

// DatasetSpec holds the caller-supplied fields of a new dataset.
type DatasetSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
}

func (spec *DatasetSpec) validate() error {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return apperr.BadRequestf("dataset name is required")
	}
	if utf8.RuneCountInString(spec.Name) > MaxNameLength {
		return apperr.BadRequestf("dataset name exceeds %d characters", MaxNameLength)
	}
	return nil
}

// CreateDataset inserts a dataset inside a transaction and, once committed,
// notifies the identity and billing channels in parallel. A failed
// notification does not undo the create.
func (s *Service) CreateDataset(ctx context.Context, spec DatasetSpec, actor auth.Identity) (*models.Dataset, error) {
	if actor.IsAnonymous() {
		return nil, fmt.Errorf("create dataset: authentication required: %w", apperr.ErrUnauthorized)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	dataset := &models.Dataset{
		ID:          bunx.NewUUIDv7(),
		Name:        spec.Name,
		Description: spec.Description,
		IsPublic:    spec.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
		Images:      []*models.Image{},
		Models:      []*models.Model{},
	}

	err := s.datasets.RunInTx(ctx, func(ctx context.Context, tx repository.DatasetStore) error {
		return tx.Create(ctx, dataset)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("dataset created", "dataset_id", dataset.ID, "user_id", actor.UserID, "public", dataset.IsPublic)

	created := events.DatasetCreated{DatasetID: dataset.ID, ActorID: actor.UserID}
	var g errgroup.Group
	for _, channel := range []string{events.ChannelIdentity, events.ChannelBilling} {
		g.Go(func() error {
			return s.publish(ctx, channel, created)
		})
	}
	// Each failure is already logged; the dataset is durable regardless.
	_ = g.Wait()

	return dataset, nil
}

// GetDataset returns the dataset with its images and models. Existence is
// checked before read access.
func (s *Service) GetDataset(ctx context.Context, datasetID string, identity auth.Identity) (*models.Dataset, error) {
	dataset, err := s.datasets.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if !readable(dataset, identity) {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, apperr.ErrForbidden)
	}
	return dataset, nil
}

// ListDatasets returns the public datasets plus the ones identity is entitled to.
func (s *Service) ListDatasets(ctx context.Context, identity auth.Identity) ([]*models.Dataset, error) {
	return s.datasets.List(ctx, repository.ListFilter{EntitledIDs: identity.Entitlements})
}

// RemoveDataset deletes the dataset with its images and models, then revokes
// its entitlements and releases its files through notifications.
func (s *Service) RemoveDataset(ctx context.Context, datasetID string, identity auth.Identity) error {
	if err := s.requireWrite(datasetID, identity); err != nil {
		return err
	}

	var images []*models.Image
	err := s.datasets.RunInTx(ctx, func(ctx context.Context, tx repository.DatasetStore) error {
		var err error
		if images, err = tx.ListImages(ctx, datasetID); err != nil {
			return err
		}
		return tx.Delete(ctx, datasetID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("dataset removed", "dataset_id", datasetID, "user_id", identity.UserID, "images", len(images))

	_ = s.publish(ctx, events.ChannelIdentity, events.DatasetDeleted{DatasetID: datasetID})
	for _, img := range images {
		_ = s.publish(ctx, events.ChannelFiles, events.ImageRemoved{DatasetID: datasetID, URL: img.URL})
	}
	return nil
}
