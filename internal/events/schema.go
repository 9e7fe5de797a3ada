package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/boxhub/boxhub/internal/apperr"
)

// ErrInvalidPayload is returned when a payload does not match its topic schema
// or the topic is unknown. It wraps apperr.ErrBadRequest, so consumers treat it
// as a permanent failure.
var ErrInvalidPayload = fmt.Errorf("invalid event payload: %w", apperr.ErrBadRequest)

const boxSchema = `{
	"type": "object",
	"required": ["x", "y", "width", "height", "label"],
	"properties": {
		"x": {"type": "number", "minimum": 0, "maximum": 1},
		"y": {"type": "number", "minimum": 0, "maximum": 1},
		"width": {"type": "number", "minimum": 0, "maximum": 1},
		"height": {"type": "number", "minimum": 0, "maximum": 1},
		"label": {"type": "string", "minLength": 1}
	}
}`

const idSchema = `{"type": "string", "minLength": 1}`

var topicSchemas = map[Topic]string{
	TopicDatasetCreated: `{
		"type": "object",
		"required": ["datasetId", "actorId"],
		"properties": {"datasetId": ` + idSchema + `, "actorId": ` + idSchema + `}
	}`,
	TopicDatasetDeleted: `{
		"type": "object",
		"required": ["datasetId"],
		"properties": {"datasetId": ` + idSchema + `}
	}`,
	TopicTrain: `{
		"type": "object",
		"required": ["datasetId", "modelName", "jobId", "hyperParameters", "images", "resume"],
		"properties": {
			"datasetId": ` + idSchema + `,
			"modelName": ` + idSchema + `,
			"jobId": ` + idSchema + `,
			"hyperParameters": {
				"type": "object",
				"additionalProperties": {"type": ["number", "string", "boolean"]}
			},
			"images": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["url"],
					"properties": {
						"url": ` + idSchema + `,
						"name": {"type": "string"},
						"boundingBoxes": {"type": ["array", "null"], "items": ` + boxSchema + `}
					}
				}
			},
			"resume": {"type": "boolean"}
		}
	}`,
	TopicModelTrained: `{
		"type": "object",
		"required": ["datasetId", "modelName", "status"],
		"properties": {
			"datasetId": ` + idSchema + `,
			"modelName": ` + idSchema + `,
			"jobId": {"type": "string"},
			"status": {"enum": ["UPLOADED", "FAILED"]},
			"files": {
				"type": "object",
				"propertyNames": {"enum": ["pytorch", "onnx", "torchscript"]},
				"additionalProperties": {
					"type": "object",
					"required": ["url"],
					"properties": {"url": ` + idSchema + `}
				}
			},
			"message": {"type": "string"}
		},
		"if": {"properties": {"status": {"const": "UPLOADED"}}},
		"then": {"required": ["files"], "properties": {"files": {"minProperties": 1}}}
	}`,
	TopicImageAdded: `{
		"type": "object",
		"required": ["datasetId", "url"],
		"properties": {"datasetId": ` + idSchema + `, "url": ` + idSchema + `}
	}`,
	TopicImageRemoved: `{
		"type": "object",
		"required": ["datasetId", "url"],
		"properties": {"datasetId": ` + idSchema + `, "url": ` + idSchema + `}
	}`,
}

// compiledSchemas is built once at package initialization; a malformed schema
// is a programming error.
var compiledSchemas = mustCompileSchemas(topicSchemas)

func mustCompileSchemas(sources map[Topic]string) map[Topic]*jsonschema.Schema {
	compiled := make(map[Topic]*jsonschema.Schema, len(sources))
	for topic, source := range sources {
		schema, err := compileSchema(string(topic)+".json", source)
		if err != nil {
			panic(fmt.Sprintf("events: compile %s schema: %v", topic, err))
		}
		compiled[topic] = schema
	}
	return compiled
}

func compileSchema(url, source string) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse schema JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	if err := compiler.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateInstance checks a decoded JSON instance against the topic schema.
func validateInstance(topic Topic, instance any) error {
	schema, ok := compiledSchemas[topic]
	if !ok {
		return fmt.Errorf("%w: unknown topic %q", ErrInvalidPayload, topic)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, topic, formatValidationError(err))
	}
	return nil
}

// formatValidationError renders the failing location as a JSON path.
// Example: "validation failed at '$.images.0.boundingBoxes.1.x': maximum: got 1.5, want 1"
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	path := "$"
	var parts []string
	for _, part := range leaf.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		path = "$." + strings.Join(parts, ".")
	}

	msg := leaf.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("validation failed at '%s': %s", path, msg)
}
