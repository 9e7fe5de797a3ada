package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ModelStatus is the lifecycle state of a trained model.
type ModelStatus string

const (
	ModelStatusPending  ModelStatus = "PENDING"
	ModelStatusFailed   ModelStatus = "FAILED"
	ModelStatusUploaded ModelStatus = "UPLOADED"
)

// Terminal reports whether only a new train request can move the status.
func (s ModelStatus) Terminal() bool {
	return s == ModelStatusFailed || s == ModelStatusUploaded
}

// Dataset is a named collection of annotated images and the models trained on them.
type Dataset struct {
	bun.BaseModel `bun:"table:datasets,alias:d"`

	ID          string    `bun:"id,pk,type:uuid" json:"id"`
	Name        string    `bun:"name,notnull,unique" json:"name"`
	Description string    `bun:"description,notnull" json:"description"`
	IsPublic    bool      `bun:"is_public,notnull" json:"isPublic"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`

	Images []*Image `bun:"rel:has-many,join:id=dataset_id" json:"images"`
	Models []*Model `bun:"rel:has-many,join:id=dataset_id" json:"models"`
}

// Image is a file reference inside a dataset. URL is unique per dataset and is
// the key used for removal.
type Image struct {
	bun.BaseModel `bun:"table:dataset_images,alias:img"`

	ID            string        `bun:"id,pk,type:uuid" json:"id"`
	DatasetID     string        `bun:"dataset_id,notnull,type:uuid,unique:uq_dataset_images_url" json:"-"`
	URL           string        `bun:"url,notnull,unique:uq_dataset_images_url" json:"url"`
	Name          string        `bun:"name,notnull" json:"name"`
	Position      int           `bun:"position,notnull" json:"-"`
	BoundingBoxes BoundingBoxes `bun:"bounding_boxes,type:jsonb,notnull" json:"boundingBoxes"`
	CreatedAt     time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"-"`
}

// Model is a training result attached to a dataset. Name is unique per dataset;
// training an existing name replaces the row in place.
type Model struct {
	bun.BaseModel `bun:"table:dataset_models,alias:m"`

	ID              string          `bun:"id,pk,type:uuid" json:"-"`
	DatasetID       string          `bun:"dataset_id,notnull,type:uuid,unique:uq_dataset_models_name" json:"-"`
	Name            string          `bun:"name,notnull,unique:uq_dataset_models_name" json:"name"`
	Position        int             `bun:"position,notnull" json:"-"`
	HyperParameters HyperParameters `bun:"hyper_parameters,type:jsonb,notnull" json:"hyperParameters"`
	Status          ModelStatus     `bun:"status,notnull" json:"status"`
	Files           ModelFiles      `bun:"files,type:jsonb" json:"files,omitempty"`
	Message         string          `bun:"message,notnull" json:"message,omitempty"`
	JobID           string          `bun:"job_id,notnull" json:"jobId"`
	CreatedAt       time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"-"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull,default:current_timestamp" json:"updatedAt"`
}
