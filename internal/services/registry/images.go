package registry

import (
	"context"
	"math"
	"net/url"
	"path"
	"strings"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/events"
)

// AddImage appends an uploaded file to the dataset. Adding a url that is
// already present returns the stored image unchanged.
func (s *Service) AddImage(ctx context.Context, datasetID, rawURL string, identity auth.Identity) (*models.Image, error) {
	if err := s.requireWrite(datasetID, identity); err != nil {
		return nil, err
	}
	name, err := imageName(rawURL)
	if err != nil {
		return nil, err
	}
	if _, err := s.datasets.GetHeader(ctx, datasetID); err != nil {
		return nil, err
	}

	image := &models.Image{
		ID:            bunx.NewUUIDv7(),
		DatasetID:     datasetID,
		URL:           rawURL,
		Name:          name,
		BoundingBoxes: models.BoundingBoxes{},
		CreatedAt:     s.now().UTC(),
	}
	stored, created, err := s.datasets.AddImage(ctx, image)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("image added", "dataset_id", datasetID, "image_id", stored.ID, "url", rawURL)
	}
	return stored, nil
}

// RemoveImage deletes the image with the given url and asks file storage to
// release the file.
func (s *Service) RemoveImage(ctx context.Context, datasetID, rawURL string, identity auth.Identity) error {
	if err := s.requireWrite(datasetID, identity); err != nil {
		return err
	}
	if rawURL == "" {
		return apperr.BadRequestf("image url is required")
	}
	if err := s.datasets.RemoveImage(ctx, datasetID, rawURL); err != nil {
		return err
	}

	s.logger.Info("image removed", "dataset_id", datasetID, "url", rawURL)
	_ = s.publish(ctx, events.ChannelFiles, events.ImageRemoved{DatasetID: datasetID, URL: rawURL})
	return nil
}

// UpdateBoundingBoxes replaces the boxes of one image. The batch is rejected
// as a whole if any box is invalid; nothing is written in that case.
func (s *Service) UpdateBoundingBoxes(ctx context.Context, datasetID, imageID string, boxes []models.BoundingBox, identity auth.Identity) error {
	if err := s.requireWrite(datasetID, identity); err != nil {
		return err
	}
	if err := ValidateBoundingBoxes(boxes); err != nil {
		return err
	}
	return s.datasets.UpdateBoundingBoxes(ctx, datasetID, imageID, models.BoundingBoxes(boxes))
}

// ValidateBoundingBoxes checks every box: coordinates and dimensions within
// [0,1] and a non-blank label. The first violation is reported.
func ValidateBoundingBoxes(boxes []models.BoundingBox) error {
	if boxes == nil {
		return apperr.BadRequestf("boundingBoxes must be an array")
	}
	for i, b := range boxes {
		for _, f := range []struct {
			name  string
			value float64
		}{{"x", b.X}, {"y", b.Y}, {"width", b.Width}, {"height", b.Height}} {
			if math.IsNaN(f.value) || f.value < 0 || f.value > 1 {
				return apperr.BadRequestf("bounding box %d: %s must be between 0 and 1, got %v", i, f.name, f.value)
			}
		}
		if strings.TrimSpace(b.Label) == "" {
			return apperr.BadRequestf("bounding box %d: label is required", i)
		}
	}
	return nil
}

// imageName is the last path segment of the url.
func imageName(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", apperr.BadRequestf("image url is required")
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "", apperr.BadRequestf("image url %q has no file name", rawURL)
	}
	return name, nil
}
