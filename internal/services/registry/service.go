// Package registry owns datasets, their images and the access rules over them.
//
// Access is decided from the caller's entitlement set only: a dataset is
// readable when it is public or the caller is entitled to it, and writable
// only when the caller is entitled to it. There is no owner column; the
// creator becomes entitled through the dataset_created notification sent to
// the identity service after the insert commits.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/metrics"
	"github.com/boxhub/boxhub/internal/repository"
)

// Dependencies wires the service. Metrics, Logger and Now are optional.
type Dependencies struct {
	Datasets repository.DatasetRepository
	Events   events.Publisher
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service implements the dataset registry.
type Service struct {
	datasets repository.DatasetRepository
	events   events.Publisher
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the registry service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		datasets: deps.Datasets,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ReadAccess reports whether identity may read the dataset: it is public, or
// identity is entitled to it. A missing dataset is not readable.
func (s *Service) ReadAccess(ctx context.Context, datasetID string, identity auth.Identity) (bool, error) {
	dataset, err := s.datasets.GetHeader(ctx, datasetID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return readable(dataset, identity), nil
}

// DatasetExists reports whether the dataset row exists.
func (s *Service) DatasetExists(ctx context.Context, datasetID string) (bool, error) {
	_, err := s.datasets.GetHeader(ctx, datasetID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WriteAccess reports whether identity may modify the dataset. It does not
// consult the dataset row, so the answer is the same whether or not it exists.
func (s *Service) WriteAccess(datasetID string, identity auth.Identity) bool {
	return identity.Entitled(datasetID)
}

func readable(dataset *models.Dataset, identity auth.Identity) bool {
	return dataset.IsPublic || identity.Entitled(dataset.ID)
}

// requireWrite fails with apperr.ErrForbidden unless identity is entitled,
// whether or not the dataset exists.
func (s *Service) requireWrite(datasetID string, identity auth.Identity) error {
	if !s.WriteAccess(datasetID, identity) {
		return fmt.Errorf("dataset %s: no write access: %w", datasetID, apperr.ErrForbidden)
	}
	return nil
}

// publish sends one envelope carrying the caller's token. Failures are logged
// and counted by the transport; the already committed change stands.
func (s *Service) publish(ctx context.Context, channel string, payload events.Payload) error {
	env := events.NewEnvelope(payload, auth.TokenFromContext(ctx))
	if err := s.events.Publish(ctx, channel, env); err != nil {
		s.logger.Error("event notification failed",
			"channel", channel, "topic", env.Topic, "event_id", env.ID, "error", err)
		return err
	}
	return nil
}
