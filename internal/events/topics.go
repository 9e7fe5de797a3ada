package events

// Topic names an event type. Each topic maps to one payload type.
type Topic string

const (
	TopicDatasetCreated Topic = "dataset_created"
	TopicDatasetDeleted Topic = "dataset_deleted"
	TopicTrain          Topic = "train"
	TopicModelTrained   Topic = "model_trained"
	TopicImageAdded     Topic = "image_added"
	TopicImageRemoved   Topic = "image_removed"
)

// Channels name the consuming side of a publication. The same topic may be
// published independently to several channels.
const (
	ChannelIdentity = "identity"
	ChannelBilling  = "billing"
	ChannelDatasets = "datasets"
	ChannelTrainer  = "trainer"
	ChannelFiles    = "files"
)

// Payload is implemented by every topic payload.
type Payload interface {
	Topic() Topic
}

// DatasetCreated is sent after a dataset has been committed.
type DatasetCreated struct {
	DatasetID string `json:"datasetId"`
	ActorID   string `json:"actorId"`
}

func (DatasetCreated) Topic() Topic { return TopicDatasetCreated }

// DatasetDeleted is sent after a dataset has been removed.
type DatasetDeleted struct {
	DatasetID string `json:"datasetId"`
}

func (DatasetDeleted) Topic() Topic { return TopicDatasetDeleted }

// Box is a bounding box as seen by the trainer.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label"`
}

// TrainImage is one image of the dataset snapshot sent to the trainer.
type TrainImage struct {
	URL           string `json:"url"`
	Name          string `json:"name"`
	BoundingBoxes []Box  `json:"boundingBoxes"`
}

// Train asks the trainer to train a model on a dataset snapshot.
type Train struct {
	DatasetID       string         `json:"datasetId"`
	ModelName       string         `json:"modelName"`
	JobID           string         `json:"jobId"`
	HyperParameters map[string]any `json:"hyperParameters"`
	Images          []TrainImage   `json:"images"`
	Resume          bool           `json:"resume"`
}

func (Train) Topic() Topic { return TopicTrain }

// Training outcomes reported in ModelTrained.Status.
const (
	TrainedStatusUploaded = "UPLOADED"
	TrainedStatusFailed   = "FAILED"
)

// ModelFile is an uploaded artifact location.
type ModelFile struct {
	URL string `json:"url"`
}

// ModelTrained is the trainer's completion report. Nothing in it is trusted
// until the sender has been re-authorized.
type ModelTrained struct {
	DatasetID string               `json:"datasetId"`
	ModelName string               `json:"modelName"`
	JobID     string               `json:"jobId,omitempty"`
	Status    string               `json:"status"`
	Files     map[string]ModelFile `json:"files,omitempty"`
	Message   string               `json:"message,omitempty"`
}

func (ModelTrained) Topic() Topic { return TopicModelTrained }

// ImageAdded is sent by file storage after an upload completed.
type ImageAdded struct {
	DatasetID string `json:"datasetId"`
	URL       string `json:"url"`
}

func (ImageAdded) Topic() Topic { return TopicImageAdded }

// ImageRemoved asks file storage to delete a file no longer referenced.
type ImageRemoved struct {
	DatasetID string `json:"datasetId"`
	URL       string `json:"url"`
}

func (ImageRemoved) Topic() Topic { return TopicImageRemoved }
