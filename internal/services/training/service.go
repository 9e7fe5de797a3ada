// Package training runs the model lifecycle of a dataset.
//
// A train request upserts the model as PENDING under a fresh job id and hands
// the dataset snapshot to the trainer over the event bus. The trainer reports
// back with model_trained; the report is applied only while the model is still
// PENDING for that job, so replays and late reports for superseded jobs change
// nothing:
//
//	[no model] --train--> PENDING
//	PENDING --model_trained(UPLOADED)--> UPLOADED
//	PENDING --model_trained(FAILED)--> FAILED
//	any --train (same name)--> PENDING
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/metrics"
	"github.com/boxhub/boxhub/internal/repository"
)

// DefaultEpochs is applied when the request does not set epochs.
const DefaultEpochs = 10

// AccessChecker decides write access. Implemented by *registry.Service.
type AccessChecker interface {
	WriteAccess(datasetID string, identity auth.Identity) bool
}

// EnvelopeAuthorizer resolves the identity behind an event envelope.
// Implemented by *authz.Delegate.
type EnvelopeAuthorizer interface {
	AuthorizeEnvelope(ctx context.Context, channel string, env events.Envelope) (context.Context, auth.Identity, error)
}

// Request asks for a model to be trained on a dataset.
type Request struct {
	DatasetID       string         `json:"datasetId"`
	ModelName       string         `json:"modelName"`
	HyperParameters map[string]any `json:"hyperParameters"`
	Resume          bool           `json:"resume"`
}

// Dependencies wires the service. Metrics, Logger and Now are optional.
type Dependencies struct {
	Datasets repository.DatasetRepository
	Access   AccessChecker
	Events   events.Publisher
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service implements the training orchestrator.
type Service struct {
	datasets repository.DatasetRepository
	access   AccessChecker
	events   events.Publisher
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the training orchestrator.
func NewService(deps Dependencies) *Service {
	s := &Service{
		datasets: deps.Datasets,
		access:   deps.Access,
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

// TrainDataset resets the named model to PENDING and dispatches a train job.
// It returns without waiting for the trainer; a dataset the trainer cannot use,
// such as one without images, comes back as a FAILED completion. token is forwarded to the
// trainer, which echoes it on completion.
func (s *Service) TrainDataset(ctx context.Context, req Request, actor auth.Identity, token string) (*models.Model, error) {
	if !s.access.WriteAccess(req.DatasetID, actor) {
		return nil, fmt.Errorf("dataset %s: no write access: %w", req.DatasetID, apperr.ErrForbidden)
	}

	req.ModelName = strings.TrimSpace(req.ModelName)
	if req.ModelName == "" {
		return nil, apperr.BadRequestf("model name is required")
	}
	params, err := hyperParameters(req.HyperParameters)
	if err != nil {
		return nil, err
	}

	dataset, err := s.datasets.GetByID(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	model, err := s.datasets.AddModel(ctx, &models.Model{
		ID:              bunx.NewUUIDv7(),
		DatasetID:       dataset.ID,
		Name:            req.ModelName,
		HyperParameters: models.HyperParameters(params),
		Status:          models.ModelStatusPending,
		JobID:           bunx.NewUUIDv7(),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordModelTransition(string(models.ModelStatusPending))

	log := s.logger.With("dataset_id", dataset.ID, "model", model.Name, "job_id", model.JobID)

	job := events.Train{
		DatasetID:       dataset.ID,
		ModelName:       model.Name,
		JobID:           model.JobID,
		HyperParameters: params,
		Images:          trainImages(dataset.Images),
		Resume:          req.Resume,
	}
	if err := s.events.Publish(ctx, events.ChannelTrainer, events.NewEnvelope(job, token)); err != nil {
		log.Error("train job dispatch failed", "error", err)
		// Nothing will ever complete this job.
		if _, failErr := s.datasets.CompleteModel(ctx, repository.ModelCompletion{
			DatasetID: dataset.ID,
			Name:      model.Name,
			JobID:     model.JobID,
			Status:    models.ModelStatusFailed,
			Message:   "training job could not be dispatched",
			At:        s.now().UTC(),
		}); failErr != nil {
			log.Error("failed to mark undispatched model", "error", failErr)
		}
		return nil, fmt.Errorf("dispatch train job: %w: %v", apperr.ErrUpstreamUnavailable, err)
	}

	log.Info("train job dispatched", "images", len(job.Images), "resume", req.Resume)
	return model, nil
}

// Subscribe registers the completion handler on the datasets channel.
func (s *Service) Subscribe(sub events.Subscriber, gate EnvelopeAuthorizer) {
	sub.Subscribe(events.ChannelDatasets, events.TopicModelTrained, func(ctx context.Context, env events.Envelope) error {
		return s.HandleModelTrained(ctx, gate, env)
	})
}

// HandleModelTrained applies a trainer report. The sender is re-authorized
// and must still have write access to the dataset; nothing in the payload is
// trusted before that. Reports for missing models, superseded jobs or models
// already in a terminal status are ignored.
func (s *Service) HandleModelTrained(ctx context.Context, gate EnvelopeAuthorizer, env events.Envelope) error {
	payload, ok := env.Payload.(events.ModelTrained)
	if !ok {
		return fmt.Errorf("%w: expected %s payload, got %T", events.ErrInvalidPayload, events.TopicModelTrained, env.Payload)
	}

	ctx, identity, err := gate.AuthorizeEnvelope(ctx, events.ChannelDatasets, env)
	if err != nil {
		return err
	}
	if !s.access.WriteAccess(payload.DatasetID, identity) {
		return fmt.Errorf("dataset %s: completion sender has no write access: %w", payload.DatasetID, apperr.ErrForbidden)
	}

	completion := repository.ModelCompletion{
		DatasetID: payload.DatasetID,
		Name:      payload.ModelName,
		JobID:     payload.JobID,
		Message:   payload.Message,
		At:        s.now().UTC(),
	}
	switch payload.Status {
	case events.TrainedStatusUploaded:
		completion.Status = models.ModelStatusUploaded
		completion.Files = make(models.ModelFiles, len(payload.Files))
		for format, f := range payload.Files {
			completion.Files[format] = models.ModelFile{URL: f.URL}
		}
	case events.TrainedStatusFailed:
		completion.Status = models.ModelStatusFailed
	default:
		return apperr.BadRequestf("unknown training status %q", payload.Status)
	}

	log := s.logger.With("dataset_id", payload.DatasetID, "model", payload.ModelName, "job_id", payload.JobID, "event_id", env.ID)

	changed, err := s.datasets.CompleteModel(ctx, completion)
	if err != nil {
		return err
	}
	if changed {
		s.metrics.RecordModelTransition(string(completion.Status))
		log.Info("model training completed", "status", completion.Status)
		return nil
	}

	current, err := s.datasets.GetModel(ctx, payload.DatasetID, payload.ModelName)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		log.Info("ignoring completion for removed model")
		return nil
	case err != nil:
		return err
	case current.Status.Terminal():
		log.Debug("ignoring repeated completion", "status", current.Status)
	default:
		log.Info("ignoring completion for superseded job", "current_job_id", current.JobID)
	}
	return nil
}

// hyperParameters copies params, applies defaults and rejects values the
// trainer cannot take.
func hyperParameters(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params)+1)
	maps.Copy(out, params)
	for key, value := range out {
		switch value.(type) {
		case string, bool, float64, float32, int, int32, int64:
		default:
			return nil, apperr.BadRequestf("hyperparameter %q must be a number, string or boolean", key)
		}
	}
	if _, ok := out["epochs"]; !ok {
		out["epochs"] = DefaultEpochs
	}
	return out, nil
}

func trainImages(images []*models.Image) []events.TrainImage {
	out := make([]events.TrainImage, 0, len(images))
	for _, img := range images {
		boxes := make([]events.Box, 0, len(img.BoundingBoxes))
		for _, b := range img.BoundingBoxes {
			boxes = append(boxes, events.Box{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height, Label: b.Label})
		}
		out = append(out, events.TrainImage{URL: img.URL, Name: img.Name, BoundingBoxes: boxes})
	}
	return out
}
