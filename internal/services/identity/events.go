package identity

import (
	"context"
	"fmt"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/events"
)

// EnvelopeAuthorizer resolves the identity behind an event envelope.
// Implemented by *authz.Delegate.
type EnvelopeAuthorizer interface {
	AuthorizeEnvelope(ctx context.Context, channel string, env events.Envelope) (context.Context, auth.Identity, error)
}

// Subscribe registers the entitlement handlers on the identity channel.
func (s *Service) Subscribe(sub events.Subscriber, gate EnvelopeAuthorizer) {
	sub.Subscribe(events.ChannelIdentity, events.TopicDatasetCreated, func(ctx context.Context, env events.Envelope) error {
		return s.HandleDatasetCreated(ctx, gate, env)
	})
	sub.Subscribe(events.ChannelIdentity, events.TopicDatasetDeleted, func(ctx context.Context, env events.Envelope) error {
		return s.HandleDatasetDeleted(ctx, gate, env)
	})
}

// HandleDatasetCreated entitles the creator to the new dataset. The envelope
// must be sent on behalf of the actor named in the payload, the dataset must
// exist, and nobody else may hold it yet. Granting twice is a no-op.
func (s *Service) HandleDatasetCreated(ctx context.Context, gate EnvelopeAuthorizer, env events.Envelope) error {
	payload, ok := env.Payload.(events.DatasetCreated)
	if !ok {
		return fmt.Errorf("%w: expected %s payload, got %T", events.ErrInvalidPayload, events.TopicDatasetCreated, env.Payload)
	}

	ctx, identity, err := gate.AuthorizeEnvelope(ctx, events.ChannelIdentity, env)
	if err != nil {
		return err
	}
	if identity.UserID != payload.ActorID {
		return fmt.Errorf("dataset %s: sender %s cannot grant to %s: %w",
			payload.DatasetID, identity.UserID, payload.ActorID, apperr.ErrForbidden)
	}
	if identity.Entitled(payload.DatasetID) {
		return nil
	}

	if s.datasets == nil {
		return fmt.Errorf("dataset %s: no dataset checker configured", payload.DatasetID)
	}
	exists, err := s.datasets.DatasetExists(ctx, payload.DatasetID)
	if err != nil {
		return fmt.Errorf("check dataset %s: %w", payload.DatasetID, err)
	}
	if !exists {
		return apperr.NotFoundf("dataset %s", payload.DatasetID)
	}

	claimed, err := s.entitlements.Claim(ctx, payload.ActorID, payload.DatasetID)
	if err != nil {
		return fmt.Errorf("grant dataset %s to %s: %w", payload.DatasetID, payload.ActorID, err)
	}
	if !claimed {
		s.logger.Warn("rejected grant of a dataset held by another user",
			"user_id", payload.ActorID, "dataset_id", payload.DatasetID)
		return fmt.Errorf("dataset %s is already held by another user: %w", payload.DatasetID, apperr.ErrForbidden)
	}

	s.metrics.RecordEntitlementChange("grant", 1)
	s.logger.Info("entitlement granted", "user_id", payload.ActorID, "dataset_id", payload.DatasetID)
	return nil
}

// HandleDatasetDeleted removes the dataset from every user's entitlements.
// Only a user entitled to the dataset may trigger it.
func (s *Service) HandleDatasetDeleted(ctx context.Context, gate EnvelopeAuthorizer, env events.Envelope) error {
	payload, ok := env.Payload.(events.DatasetDeleted)
	if !ok {
		return fmt.Errorf("%w: expected %s payload, got %T", events.ErrInvalidPayload, events.TopicDatasetDeleted, env.Payload)
	}

	_, identity, err := gate.AuthorizeEnvelope(ctx, events.ChannelIdentity, env)
	if err != nil {
		return err
	}
	if !identity.Entitled(payload.DatasetID) {
		// Also the outcome of a redelivery after the revocation went through.
		return fmt.Errorf("dataset %s: %w", payload.DatasetID, apperr.ErrForbidden)
	}

	n, err := s.entitlements.RevokeDataset(ctx, payload.DatasetID)
	if err != nil {
		return fmt.Errorf("revoke dataset %s: %w", payload.DatasetID, err)
	}

	s.metrics.RecordEntitlementChange("revoke", int(n))
	s.logger.Info("entitlements revoked", "dataset_id", payload.DatasetID, "count", n)
	return nil
}
