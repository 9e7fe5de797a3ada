package training_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/services/registry"
	"github.com/boxhub/boxhub/internal/services/servicetest"
	"github.com/boxhub/boxhub/internal/services/training"
)

type fixture struct {
	h       *servicetest.Harness
	alice   servicetest.User
	dataset *models.Dataset
}

func newFixture(t *testing.T, images int, opts ...servicetest.Option) *fixture {
	t.Helper()

	h := servicetest.New(t, opts...)
	alice := h.User(t, "alice@example.com")

	ctx, identity := h.As(t, alice)
	ds, err := h.Registry.CreateDataset(ctx, registry.DatasetSpec{Name: "cats"}, identity)
	require.NoError(t, err)

	// Tests that replace the publisher never deliver the grant.
	require.NoError(t, h.Entitlements.Grant(context.Background(), alice.ID, ds.ID))

	ctx, identity = h.As(t, alice)
	for i := range images {
		_, err := h.Registry.AddImage(ctx, ds.ID, fmt.Sprintf("s3://bucket/cats/%d.png", i), identity)
		require.NoError(t, err)
	}

	return &fixture{h: h, alice: alice, dataset: ds}
}

func (f *fixture) train(t *testing.T, name string) *models.Model {
	t.Helper()
	_, identity := f.h.As(t, f.alice)
	model, err := f.h.Training.TrainDataset(context.Background(), training.Request{
		DatasetID:       f.dataset.ID,
		ModelName:       name,
		HyperParameters: map[string]any{"epochs": 5, "optimizer": "adam"},
	}, identity, f.alice.Token)
	require.NoError(t, err)
	return model
}

func (f *fixture) complete(t *testing.T, token string, payload events.ModelTrained) error {
	t.Helper()
	return f.h.Training.HandleModelTrained(context.Background(), f.h.Gate, events.NewEnvelope(payload, token))
}

func (f *fixture) model(t *testing.T, name string) *models.Model {
	t.Helper()
	m, err := f.h.Datasets.GetModel(context.Background(), f.dataset.ID, name)
	require.NoError(t, err)
	return m
}

func uploaded(datasetID, name, jobID string) events.ModelTrained {
	return events.ModelTrained{
		DatasetID: datasetID,
		ModelName: name,
		JobID:     jobID,
		Status:    events.TrainedStatusUploaded,
		Files: map[string]events.ModelFile{
			"pytorch": {URL: "s3://models/" + name + ".pt"},
			"onnx":    {URL: "s3://models/" + name + ".onnx"},
		},
	}
}

func TestTrainDatasetDispatchesJob(t *testing.T) {
	f := newFixture(t, 3)

	model := f.train(t, "yolo")
	assert.Equal(t, models.ModelStatusPending, model.Status)
	assert.NotEmpty(t, model.JobID)
	assert.Nil(t, model.Files)

	jobs := f.h.Recorder.Envelopes(events.ChannelTrainer, events.TopicTrain)
	require.Len(t, jobs, 1)
	assert.Equal(t, f.alice.Token, jobs[0].Authentication)

	job := jobs[0].Payload.(events.Train)
	assert.Equal(t, f.dataset.ID, job.DatasetID)
	assert.Equal(t, "yolo", job.ModelName)
	assert.Equal(t, model.JobID, job.JobID)
	assert.Equal(t, map[string]any{"epochs": float64(5), "optimizer": "adam"}, job.HyperParameters)
	assert.Len(t, job.Images, 3)
	assert.Equal(t, "0.png", job.Images[0].Name)
}

func TestTrainDatasetDefaultsEpochs(t *testing.T) {
	f := newFixture(t, 3)
	_, identity := f.h.As(t, f.alice)

	model, err := f.h.Training.TrainDataset(context.Background(), training.Request{
		DatasetID: f.dataset.ID,
		ModelName: "yolo",
	}, identity, f.alice.Token)
	require.NoError(t, err)
	assert.EqualValues(t, training.DefaultEpochs, model.HyperParameters["epochs"])
}

func TestTrainDatasetRejects(t *testing.T) {
	f := newFixture(t, 3)
	bob := f.h.User(t, "bob@example.com")
	_, aliceID := f.h.As(t, f.alice)
	_, bobID := f.h.As(t, bob)
	ctx := context.Background()

	_, err := f.h.Training.TrainDataset(ctx, training.Request{DatasetID: f.dataset.ID, ModelName: "yolo"}, bobID, bob.Token)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.h.Training.TrainDataset(ctx, training.Request{DatasetID: f.dataset.ID, ModelName: "yolo"}, auth.Anonymous, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.h.Training.TrainDataset(ctx, training.Request{DatasetID: f.dataset.ID, ModelName: " "}, aliceID, f.alice.Token)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = f.h.Training.TrainDataset(ctx, training.Request{
		DatasetID:       f.dataset.ID,
		ModelName:       "yolo",
		HyperParameters: map[string]any{"layers": []any{1, 2}},
	}, aliceID, f.alice.Token)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	// Entitled to an id that does not exist.
	ghost := auth.Identity{UserID: f.alice.ID, Entitlements: []string{"0190d1d4-0000-7000-8000-000000000000"}}
	_, err = f.h.Training.TrainDataset(ctx, training.Request{DatasetID: ghost.Entitlements[0], ModelName: "yolo"}, ghost, f.alice.Token)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Empty(t, f.h.Recorder.Envelopes(events.ChannelTrainer, events.TopicTrain))
}

func TestTrainEmptyDatasetIsLeftToTheTrainer(t *testing.T) {
	f := newFixture(t, 0)

	model := f.train(t, "yolo")
	assert.Equal(t, models.ModelStatusPending, model.Status)

	jobs := f.h.Recorder.Envelopes(events.ChannelTrainer, events.TopicTrain)
	require.Len(t, jobs, 1)
	job := jobs[0].Payload.(events.Train)
	assert.Empty(t, job.Images)

	require.NoError(t, f.complete(t, f.alice.Token, events.ModelTrained{
		DatasetID: f.dataset.ID, ModelName: "yolo", JobID: model.JobID,
		Status: events.TrainedStatusFailed, Message: "dataset has no images",
	}))
	m := f.model(t, "yolo")
	assert.Equal(t, models.ModelStatusFailed, m.Status)
	assert.Equal(t, "dataset has no images", m.Message)
}

func TestTrainDatasetDispatchFailureFailsModel(t *testing.T) {
	f := newFixture(t, 3, servicetest.WithPublisher(func(events.Publisher) events.Publisher {
		return servicetest.FailingPublisher{Err: errors.New("broker down")}
	}))
	_, identity := f.h.As(t, f.alice)

	_, err := f.h.Training.TrainDataset(context.Background(), training.Request{DatasetID: f.dataset.ID, ModelName: "yolo"}, identity, f.alice.Token)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, models.ModelStatusFailed, f.model(t, "yolo").Status)
}

func TestModelLifecycle(t *testing.T) {
	f := newFixture(t, 3)

	// train → FAILED
	first := f.train(t, "yolo")
	require.NoError(t, f.complete(t, f.alice.Token, events.ModelTrained{
		DatasetID: f.dataset.ID, ModelName: "yolo", JobID: first.JobID,
		Status: events.TrainedStatusFailed, Message: "CUDA out of memory",
	}))
	m := f.model(t, "yolo")
	assert.Equal(t, models.ModelStatusFailed, m.Status)
	assert.Equal(t, "CUDA out of memory", m.Message)

	// retrain → PENDING, same position, prior outcome discarded
	second := f.train(t, "yolo")
	assert.Equal(t, models.ModelStatusPending, second.Status)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, first.Position, second.Position)
	assert.Empty(t, second.Message)

	// → UPLOADED
	require.NoError(t, f.complete(t, f.alice.Token, uploaded(f.dataset.ID, "yolo", second.JobID)))
	m = f.model(t, "yolo")
	assert.Equal(t, models.ModelStatusUploaded, m.Status)
	assert.Equal(t, "s3://models/yolo.onnx", m.Files["onnx"].URL)

	// retrain an UPLOADED model → PENDING, files cleared
	third := f.train(t, "yolo")
	assert.Equal(t, models.ModelStatusPending, third.Status)
	assert.Empty(t, third.Files)
	m = f.model(t, "yolo")
	assert.Equal(t, models.ModelStatusPending, m.Status)
	assert.Empty(t, m.Files)
	assert.Equal(t, third.JobID, m.JobID)

	// Only one model with that name exists.
	_, identity := f.h.As(t, f.alice)
	ds, err := f.h.Registry.GetDataset(context.Background(), f.dataset.ID, identity)
	require.NoError(t, err)
	assert.Len(t, ds.Models, 1)
}

func TestModelTrainedIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	model := f.train(t, "yolo")

	done := uploaded(f.dataset.ID, "yolo", model.JobID)
	require.NoError(t, f.complete(t, f.alice.Token, done))
	first := f.model(t, "yolo")

	require.NoError(t, f.complete(t, f.alice.Token, done))
	again := f.model(t, "yolo")
	assert.Equal(t, first.Status, again.Status)
	assert.Equal(t, first.Files, again.Files)
	assert.True(t, first.UpdatedAt.Equal(again.UpdatedAt))

	// A contradicting report after the terminal state changes nothing either.
	require.NoError(t, f.complete(t, f.alice.Token, events.ModelTrained{
		DatasetID: f.dataset.ID, ModelName: "yolo", JobID: model.JobID, Status: events.TrainedStatusFailed,
	}))
	assert.Equal(t, models.ModelStatusUploaded, f.model(t, "yolo").Status)
}

func TestModelTrainedForSupersededJobIsIgnored(t *testing.T) {
	f := newFixture(t, 3)
	first := f.train(t, "yolo")
	second := f.train(t, "yolo")

	require.NoError(t, f.complete(t, f.alice.Token, uploaded(f.dataset.ID, "yolo", first.JobID)))
	m := f.model(t, "yolo")
	assert.Equal(t, models.ModelStatusPending, m.Status)
	assert.Equal(t, second.JobID, m.JobID)
}

func TestModelTrainedForRemovedModelIsIgnored(t *testing.T) {
	f := newFixture(t, 3)
	model := f.train(t, "yolo")

	_, identity := f.h.As(t, f.alice)
	require.NoError(t, f.h.Registry.RemoveModel(context.Background(), f.dataset.ID, "yolo", identity))

	require.NoError(t, f.complete(t, f.alice.Token, uploaded(f.dataset.ID, "yolo", model.JobID)))
	_, err := f.h.Datasets.GetModel(context.Background(), f.dataset.ID, "yolo")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestModelTrainedRequiresWriteAccess(t *testing.T) {
	f := newFixture(t, 3)
	model := f.train(t, "yolo")
	mallory := f.h.User(t, "mallory@example.com")

	err := f.complete(t, mallory.Token, uploaded(f.dataset.ID, "yolo", model.JobID))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	err = f.complete(t, "", uploaded(f.dataset.ID, "yolo", model.JobID))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	err = f.complete(t, "forged-token", uploaded(f.dataset.ID, "yolo", model.JobID))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	assert.Equal(t, models.ModelStatusPending, f.model(t, "yolo").Status)
}

func TestModelTrainedOverBus(t *testing.T) {
	f := newFixture(t, 3)
	model := f.train(t, "yolo")

	// Without a jobId the report applies to whatever job is pending.
	env := events.NewEnvelope(events.ModelTrained{
		DatasetID: f.dataset.ID, ModelName: "yolo", Status: events.TrainedStatusFailed, Message: "diverged",
	}, f.alice.Token)
	require.NoError(t, f.h.Bus.Publish(context.Background(), events.ChannelDatasets, env))

	m := f.model(t, "yolo")
	assert.Equal(t, models.ModelStatusFailed, m.Status)
	assert.Equal(t, model.JobID, m.JobID)

	// An UPLOADED report without files never reaches the handler.
	bad := events.NewEnvelope(events.ModelTrained{DatasetID: f.dataset.ID, ModelName: "yolo", Status: events.TrainedStatusUploaded}, f.alice.Token)
	assert.ErrorIs(t, f.h.Bus.Publish(context.Background(), events.ChannelDatasets, bad), events.ErrInvalidPayload)
}
