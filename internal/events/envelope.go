package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Envelope wraps a payload with delivery metadata. Authentication carries the
// bearer token of the user on whose behalf the event was produced; consumers
// re-authorize it instead of trusting ids inside the payload.
type Envelope struct {
	ID             string
	Topic          Topic
	OccurredAt     time.Time
	Authentication string
	Payload        Payload
}

// NewEnvelope wraps payload with a fresh time-ordered id.
func NewEnvelope(payload Payload, token string) Envelope {
	return Envelope{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Topic:          payload.Topic(),
		OccurredAt:     time.Now().UTC(),
		Authentication: token,
		Payload:        payload,
	}
}

type wireEnvelope struct {
	ID             string          `json:"id"`
	Topic          Topic           `json:"topic"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Authentication string          `json:"authentication,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Encode validates the payload against its topic schema and serializes the envelope.
func Encode(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}
	if env.Topic == "" {
		env.Topic = env.Payload.Topic()
	}
	if env.Topic != env.Payload.Topic() {
		return nil, fmt.Errorf("%w: topic %q does not match payload %T", ErrInvalidPayload, env.Topic, env.Payload)
	}

	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", env.Topic, err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validateInstance(env.Topic, instance); err != nil {
		return nil, err
	}

	return json.Marshal(wireEnvelope{
		ID:             env.ID,
		Topic:          env.Topic,
		OccurredAt:     env.OccurredAt,
		Authentication: env.Authentication,
		Payload:        raw,
	})
}

// Decode parses an envelope, validates its payload against the topic schema and
// converts it into the topic's payload type. Any failure wraps ErrInvalidPayload.
func Decode(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if wire.ID == "" {
		return Envelope{}, fmt.Errorf("%w: missing envelope id", ErrInvalidPayload)
	}
	if len(wire.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(wire.Payload))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validateInstance(wire.Topic, instance); err != nil {
		return Envelope{}, err
	}

	payload, err := decodePayload(wire.Topic, instance)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ID:             wire.ID,
		Topic:          wire.Topic,
		OccurredAt:     wire.OccurredAt,
		Authentication: wire.Authentication,
		Payload:        payload,
	}, nil
}

func decodePayload(topic Topic, instance any) (Payload, error) {
	switch topic {
	case TopicDatasetCreated:
		return decodeAs[DatasetCreated](instance)
	case TopicDatasetDeleted:
		return decodeAs[DatasetDeleted](instance)
	case TopicTrain:
		return decodeAs[Train](instance)
	case TopicModelTrained:
		return decodeAs[ModelTrained](instance)
	case TopicImageAdded:
		return decodeAs[ImageAdded](instance)
	case TopicImageRemoved:
		return decodeAs[ImageRemoved](instance)
	default:
		return nil, fmt.Errorf("%w: unknown topic %q", ErrInvalidPayload, topic)
	}
}

func decodeAs[T Payload](instance any) (Payload, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &out,
		DecodeHook: jsonNumberHook,
	})
	if err != nil {
		return nil, fmt.Errorf("create payload decoder: %w", err)
	}
	if err := decoder.Decode(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return out, nil
}

// jsonNumberHook converts json.Number values bound for untyped fields into
// float64, the representation encoding/json would have produced.
func jsonNumberHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok || to.Kind() != reflect.Interface {
		return data, nil
	}
	return n.Float64()
}
