package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/metrics"
)

// stubValidator resolves tokens from a fixed table.
type stubValidator struct {
	identities map[string]auth.Identity
	delay      time.Duration
	err        error
	calls      int
}

func (s *stubValidator) ValidateToken(ctx context.Context, token string) (auth.Identity, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return auth.Identity{}, ctx.Err()
		}
	}
	if s.err != nil {
		return auth.Identity{}, s.err
	}
	identity, ok := s.identities[token]
	if !ok {
		return auth.Identity{}, apperr.ErrUnauthorized
	}
	return identity, nil
}

var alice = auth.Identity{UserID: "alice", Entitlements: []string{"ds-1"}}

func newStub() *stubValidator {
	return &stubValidator{identities: map[string]auth.Identity{"good": alice}}
}

func TestAuthorizeMatrix(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		bypass  bool
		want    auth.Identity
		wantErr bool
	}{
		{name: "valid token, write route", token: "good", want: alice},
		{name: "valid token, bypass route", token: "good", bypass: true, want: alice},
		{name: "no token, bypass route", bypass: true, want: auth.Anonymous},
		{name: "no token, write route", wantErr: true},
		{name: "bad token, bypass route", token: "bad", bypass: true, want: auth.Anonymous},
		{name: "bad token, write route", token: "bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDelegate(newStub(), Policies{"route": {Bypass: tt.bypass}})

			got, err := d.Authorize(context.Background(), "route", tt.token)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrUnauthorized)
				assert.True(t, got.IsAnonymous())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizeUnknownRouteFailsClosed(t *testing.T) {
	d := NewDelegate(newStub(), Policies{"GET /datasets": {Bypass: true}})

	_, err := d.Authorize(context.Background(), "GET /unknown", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = d.Authorize(context.Background(), "GET /datasets", "")
	assert.NoError(t, err)
}

func TestAuthorizeValidatorTimeout(t *testing.T) {
	stub := newStub()
	stub.delay = time.Second

	d := NewDelegate(stub, Policies{
		"read":  {Bypass: true},
		"write": {},
	}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	identity, err := d.Authorize(context.Background(), "read", "good")
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, err = d.Authorize(context.Background(), "write", "good")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.False(t, apperr.Permanent(err))
}

func TestAuthorizeUpstreamUnavailable(t *testing.T) {
	stub := newStub()
	stub.err = apperr.ErrUpstreamUnavailable

	d := NewDelegate(stub, Policies{"read": {Bypass: true}})

	identity, err := d.Authorize(context.Background(), "read", "good")
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())

	_, err = d.Authorize(context.Background(), "write", "good")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.False(t, apperr.Permanent(err))

	// A validator fault is no verdict on the token either.
	stub.err = errors.New("database is locked")
	_, err = d.Authorize(context.Background(), "write", "good")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.False(t, apperr.Permanent(err))

	// A rejected token is.
	stub.err = nil
	_, err = d.Authorize(context.Background(), "write", "bad")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.NotErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.True(t, apperr.Permanent(err))
}

func TestAuthorizeRejectsEmptyIdentity(t *testing.T) {
	stub := &stubValidator{identities: map[string]auth.Identity{"odd": {}}}
	d := NewDelegate(stub, nil)

	_, err := d.Authorize(context.Background(), "write", "odd")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthorizeSkipsValidationWithoutToken(t *testing.T) {
	stub := newStub()
	d := NewDelegate(stub, Policies{"read": {Bypass: true}})

	_, _ = d.Authorize(context.Background(), "read", "")
	_, _ = d.Authorize(context.Background(), "write", "")
	assert.Zero(t, stub.calls)
}

func TestResolveAttachesIdentity(t *testing.T) {
	d := NewDelegate(newStub(), Policies{"read": {Bypass: true}})

	ctx, identity, err := d.Resolve(context.Background(), "read", "good")
	require.NoError(t, err)
	assert.Equal(t, alice, identity)
	assert.Equal(t, alice, auth.IdentityFromContext(ctx))
	assert.Equal(t, "good", auth.TokenFromContext(ctx))

	ctx, identity, err = d.Resolve(context.Background(), "read", "bad")
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())
	assert.True(t, auth.IdentityFromContext(ctx).IsAnonymous())
	assert.Empty(t, auth.TokenFromContext(ctx))
}

func TestAuthorizeRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	d := NewDelegate(newStub(), Policies{"read": {Bypass: true}}, WithMetrics(collector))

	_, _ = d.Authorize(context.Background(), "read", "good")
	_, _ = d.Authorize(context.Background(), "read", "")
	_, _ = d.Authorize(context.Background(), "write", "")

	count, err := testutil.GatherAndCount(reg, "boxhub_authorizations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAuthorizeEnvelope(t *testing.T) {
	d := NewDelegate(newStub(), Policies{
		// Even an explicit bypass entry cannot open an event route.
		EventRoute(events.ChannelIdentity, events.TopicDatasetCreated): {Bypass: true},
	})

	env := events.NewEnvelope(events.DatasetCreated{DatasetID: "ds-1", ActorID: "alice"}, "good")
	ctx, identity, err := d.AuthorizeEnvelope(context.Background(), events.ChannelIdentity, env)
	require.NoError(t, err)
	assert.Equal(t, alice, identity)
	assert.Equal(t, "good", auth.TokenFromContext(ctx))

	env.Authentication = ""
	_, _, err = d.AuthorizeEnvelope(context.Background(), events.ChannelIdentity, env)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	env.Authentication = "forged"
	_, _, err = d.AuthorizeEnvelope(context.Background(), events.ChannelIdentity, env)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestEnvelopeLeftPendingWhileValidatorIsDown(t *testing.T) {
	stub := newStub()
	stub.delay = time.Second
	d := NewDelegate(stub, nil, WithTimeout(20*time.Millisecond))

	dispatcher, err := events.NewDispatcher(16)
	require.NoError(t, err)
	handled := 0
	dispatcher.Register(events.ChannelDatasets, events.TopicModelTrained, func(ctx context.Context, env events.Envelope) error {
		if _, _, err := d.AuthorizeEnvelope(ctx, events.ChannelDatasets, env); err != nil {
			return err
		}
		handled++
		return nil
	})

	env := events.NewEnvelope(events.ModelTrained{
		DatasetID: "ds-1",
		ModelName: "m1",
		Status:    events.TrainedStatusFailed,
		Message:   "no images",
	}, "good")
	data, err := events.Encode(env)
	require.NoError(t, err)

	err = dispatcher.Dispatch(context.Background(), events.ChannelDatasets, data)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.False(t, events.Acknowledge(err), "the transport must redeliver")
	assert.Zero(t, handled)

	// Once the validator answers again, the redelivered envelope is handled
	// rather than skipped as a duplicate.
	stub.delay = 0
	require.NoError(t, dispatcher.Dispatch(context.Background(), events.ChannelDatasets, data))
	assert.Equal(t, 1, handled)
}
