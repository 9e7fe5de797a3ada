package registry

import (
	"context"

	"github.com/boxhub/boxhub/internal/auth"
)

// RemoveModel deletes a model by name. Removing a name that does not exist
// succeeds. An outstanding training job is not cancelled; its completion will
// find no model and be ignored.
func (s *Service) RemoveModel(ctx context.Context, datasetID, name string, identity auth.Identity) error {
	if err := s.requireWrite(datasetID, identity); err != nil {
		return err
	}

	removed, err := s.datasets.RemoveModel(ctx, datasetID, name)
	if err != nil {
		return err
	}
	if !removed {
		s.logger.Debug("model to remove not found", "dataset_id", datasetID, "model", name)
		return nil
	}

	s.logger.Info("model removed", "dataset_id", datasetID, "model", name)
	return nil
}
