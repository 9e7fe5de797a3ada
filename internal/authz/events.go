package authz

import (
	"context"

	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/events"
)

// EventRoute names the route of an event subscription, e.g. "event:identity/dataset_created".
func EventRoute(channel string, topic events.Topic) string {
	return "event:" + channel + "/" + string(topic)
}

// AuthorizeEnvelope resolves the envelope's authentication token. Event routes
// are never bypass-eligible: a consumer acts on behalf of the producer's
// caller and must know who that is.
func (d *Delegate) AuthorizeEnvelope(ctx context.Context, channel string, env events.Envelope) (context.Context, auth.Identity, error) {
	route := EventRoute(channel, env.Topic)
	identity, err := d.AuthorizeWith(ctx, route, env.Authentication, false)
	if err != nil {
		return ctx, identity, err
	}
	ctx = auth.WithIdentity(ctx, identity)
	ctx = auth.WithToken(ctx, env.Authentication)
	return ctx, identity, nil
}
