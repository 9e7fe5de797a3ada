package registry

import (
	"context"
	"fmt"

	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/events"
)

// EnvelopeAuthorizer resolves the identity behind an event envelope.
// Implemented by *authz.Delegate.
type EnvelopeAuthorizer interface {
	AuthorizeEnvelope(ctx context.Context, channel string, env events.Envelope) (context.Context, auth.Identity, error)
}

// Subscribe registers the upload handler on the datasets channel.
func (s *Service) Subscribe(sub events.Subscriber, gate EnvelopeAuthorizer) {
	sub.Subscribe(events.ChannelDatasets, events.TopicImageAdded, func(ctx context.Context, env events.Envelope) error {
		return s.HandleImageAdded(ctx, gate, env)
	})
}

// HandleImageAdded records a file uploaded by file storage on behalf of the
// envelope's sender, who must have write access to the dataset.
func (s *Service) HandleImageAdded(ctx context.Context, gate EnvelopeAuthorizer, env events.Envelope) error {
	payload, ok := env.Payload.(events.ImageAdded)
	if !ok {
		return fmt.Errorf("%w: expected %s payload, got %T", events.ErrInvalidPayload, events.TopicImageAdded, env.Payload)
	}

	ctx, identity, err := gate.AuthorizeEnvelope(ctx, events.ChannelDatasets, env)
	if err != nil {
		return err
	}

	_, err = s.AddImage(ctx, payload.DatasetID, payload.URL, identity)
	return err
}
