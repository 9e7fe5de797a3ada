package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// BoundingBox is one annotation. Coordinates are relative to the image size.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label"`
}

// BoundingBoxes is stored as a JSON array.
type BoundingBoxes []BoundingBox

// Scan implements sql.Scanner for reading from database
func (b *BoundingBoxes) Scan(value any) error {
	if value == nil {
		*b = BoundingBoxes{}
		return nil
	}
	raw, err := jsonBytes(value, "BoundingBoxes")
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, b)
}

// Value implements driver.Valuer for writing to database
func (b BoundingBoxes) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	return marshalString(b)
}

// HyperParameters is an opaque training configuration forwarded to the trainer.
type HyperParameters map[string]any

// Scan implements sql.Scanner for reading from database
func (h *HyperParameters) Scan(value any) error {
	if value == nil {
		*h = HyperParameters{}
		return nil
	}
	raw, err := jsonBytes(value, "HyperParameters")
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, h)
}

// Value implements driver.Valuer for writing to database
func (h HyperParameters) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	return marshalString(h)
}

// ModelFile points at one exported artifact.
type ModelFile struct {
	URL string `json:"url"`
}

// ModelFiles maps an artifact format (pytorch, onnx, torchscript) to its location.
// A nil map is stored as NULL.
type ModelFiles map[string]ModelFile

// Scan implements sql.Scanner for reading from database
func (f *ModelFiles) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	raw, err := jsonBytes(value, "ModelFiles")
	if err != nil {
		return err
	}
	if string(raw) == "null" {
		*f = nil
		return nil
	}
	return json.Unmarshal(raw, f)
}

// Value implements driver.Valuer for writing to database
func (f ModelFiles) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return marshalString(f)
}

func jsonBytes(value any, typeName string) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("failed to scan %s: expected []byte or string, got %T", typeName, value)
	}
}

func marshalString(v any) (driver.Value, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}
