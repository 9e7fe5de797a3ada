package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/services/registry"
	"github.com/boxhub/boxhub/internal/services/training"
)

// DatasetAPI is the dataset registry as seen by the HTTP adapter.
type DatasetAPI interface {
	CreateDataset(ctx context.Context, spec registry.DatasetSpec, actor auth.Identity) (*models.Dataset, error)
	GetDataset(ctx context.Context, datasetID string, identity auth.Identity) (*models.Dataset, error)
	ListDatasets(ctx context.Context, identity auth.Identity) ([]*models.Dataset, error)
	RemoveDataset(ctx context.Context, datasetID string, identity auth.Identity) error
	RemoveImage(ctx context.Context, datasetID, rawURL string, identity auth.Identity) error
	UpdateBoundingBoxes(ctx context.Context, datasetID, imageID string, boxes []models.BoundingBox, identity auth.Identity) error
	RemoveModel(ctx context.Context, datasetID, name string, identity auth.Identity) error
	WriteAccess(datasetID string, identity auth.Identity) bool
}

// TrainingAPI is the training orchestrator as seen by the HTTP adapter.
type TrainingAPI interface {
	TrainDataset(ctx context.Context, req training.Request, actor auth.Identity, token string) (*models.Model, error)
}

type datasetHandlers struct {
	datasets DatasetAPI
	training TrainingAPI
}

type listDatasetsResponse struct {
	Datasets []*models.Dataset `json:"datasets"`
}

func (h *datasetHandlers) list(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.datasets.ListDatasets(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []*models.Dataset{}
	}
	writeJSON(w, http.StatusOK, listDatasetsResponse{Datasets: datasets})
}

func (h *datasetHandlers) get(w http.ResponseWriter, r *http.Request) {
	dataset, err := h.datasets.GetDataset(r.Context(), chi.URLParam(r, "id"), auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataset)
}

func (h *datasetHandlers) create(w http.ResponseWriter, r *http.Request) {
	var spec registry.DatasetSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, r, err)
		return
	}

	dataset, err := h.datasets.CreateDataset(r.Context(), spec, auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataset)
}

func (h *datasetHandlers) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.datasets.RemoveDataset(r.Context(), chi.URLParam(r, "id"), auth.IdentityFromContext(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeImage takes the image URL as the "url" query parameter.
func (h *datasetHandlers) removeImage(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, r, apperr.BadRequestf("url query parameter is required"))
		return
	}

	err := h.datasets.RemoveImage(r.Context(), chi.URLParam(r, "id"), rawURL, auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// boxRequest keeps the numeric fields nullable so an omitted coordinate is
// rejected instead of read as 0.
type boxRequest struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
	Label  string   `json:"label"`
}

type boundingBoxesRequest struct {
	BoundingBoxes []boxRequest `json:"boundingBoxes"`
}

func (req boundingBoxesRequest) boxes() ([]models.BoundingBox, error) {
	if req.BoundingBoxes == nil {
		return nil, nil
	}
	boxes := make([]models.BoundingBox, 0, len(req.BoundingBoxes))
	for i, b := range req.BoundingBoxes {
		for _, f := range []struct {
			name  string
			value *float64
		}{{"x", b.X}, {"y", b.Y}, {"width", b.Width}, {"height", b.Height}} {
			if f.value == nil {
				return nil, apperr.BadRequestf("bounding box %d: %s must be a number", i, f.name)
			}
		}
		boxes = append(boxes, models.BoundingBox{X: *b.X, Y: *b.Y, Width: *b.Width, Height: *b.Height, Label: b.Label})
	}
	return boxes, nil
}

func (h *datasetHandlers) updateBoundingBoxes(w http.ResponseWriter, r *http.Request) {
	var req boundingBoxesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	datasetID := chi.URLParam(r, "id")
	identity := auth.IdentityFromContext(r.Context())
	boxes, err := req.boxes()
	if err != nil {
		// Write access is decided before the payload is judged.
		if !h.datasets.WriteAccess(datasetID, identity) {
			err = fmt.Errorf("dataset %s: %w", datasetID, apperr.ErrForbidden)
		}
		writeError(w, r, err)
		return
	}

	err = h.datasets.UpdateBoundingBoxes(r.Context(), datasetID, chi.URLParam(r, "imageId"), boxes, identity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type trainRequest struct {
	ModelName       string         `json:"modelName"`
	HyperParameters map[string]any `json:"hyperParameters"`
	Resume          bool           `json:"resume"`
}

// train accepts the request and dispatches the job; the model stays PENDING
// until the trainer reports back.
func (h *datasetHandlers) train(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	model, err := h.training.TrainDataset(ctx, training.Request{
		DatasetID:       chi.URLParam(r, "id"),
		ModelName:       req.ModelName,
		HyperParameters: req.HyperParameters,
		Resume:          req.Resume,
	}, auth.IdentityFromContext(ctx), auth.TokenFromContext(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, model)
}

func (h *datasetHandlers) removeModel(w http.ResponseWriter, r *http.Request) {
	err := h.datasets.RemoveModel(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), auth.IdentityFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
