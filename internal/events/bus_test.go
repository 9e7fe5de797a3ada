package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/metrics"
)

func encodeT(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := Encode(env)
	require.NoError(t, err)
	return data
}

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(16, WithMetrics(metrics.NewCollector(prometheus.NewRegistry())))
	require.NoError(t, err)
	return d
}

func TestDispatcherRoutesByChannelAndTopic(t *testing.T) {
	d := newDispatcher(t)

	var got []Envelope
	d.Register(ChannelIdentity, TopicDatasetCreated, func(_ context.Context, env Envelope) error {
		got = append(got, env)
		return nil
	})

	env := NewEnvelope(DatasetCreated{DatasetID: "ds", ActorID: "u1"}, "tok")

	require.NoError(t, d.Dispatch(context.Background(), ChannelIdentity, encodeT(t, env)))
	// Same topic on a channel without a handler is ignored.
	require.NoError(t, d.Dispatch(context.Background(), ChannelBilling, encodeT(t, NewEnvelope(env.Payload, "tok"))))

	require.Len(t, got, 1)
	assert.Equal(t, env.ID, got[0].ID)
	assert.Equal(t, "tok", got[0].Authentication)
	assert.Equal(t, DatasetCreated{DatasetID: "ds", ActorID: "u1"}, got[0].Payload)
	assert.ElementsMatch(t, []Route{{Channel: ChannelIdentity, Topic: TopicDatasetCreated}}, d.Routes())
}

func TestDispatcherDedupe(t *testing.T) {
	d := newDispatcher(t)

	calls := 0
	d.Register(ChannelIdentity, TopicDatasetDeleted, func(context.Context, Envelope) error {
		calls++
		return nil
	})

	data := encodeT(t, NewEnvelope(DatasetDeleted{DatasetID: "ds"}, ""))
	require.NoError(t, d.Dispatch(context.Background(), ChannelIdentity, data))
	require.NoError(t, d.Dispatch(context.Background(), ChannelIdentity, data))
	assert.Equal(t, 1, calls)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	d := newDispatcher(t)

	calls := 0
	d.Register(ChannelIdentity, TopicDatasetDeleted, func(context.Context, Envelope) error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return nil
	})

	data := encodeT(t, NewEnvelope(DatasetDeleted{DatasetID: "ds"}, ""))

	err := d.Dispatch(context.Background(), ChannelIdentity, data)
	require.Error(t, err)
	assert.False(t, Acknowledge(err))

	// Not marked seen, so redelivery runs the handler again.
	require.NoError(t, d.Dispatch(context.Background(), ChannelIdentity, data))
	assert.Equal(t, 2, calls)
}

func TestDispatcherPermanentFailureIsNotRetried(t *testing.T) {
	d := newDispatcher(t)

	calls := 0
	d.Register(ChannelIdentity, TopicDatasetDeleted, func(context.Context, Envelope) error {
		calls++
		return fmt.Errorf("dataset ds: %w", apperr.ErrForbidden)
	})

	data := encodeT(t, NewEnvelope(DatasetDeleted{DatasetID: "ds"}, ""))

	err := d.Dispatch(context.Background(), ChannelIdentity, data)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.True(t, Acknowledge(err))

	require.NoError(t, d.Dispatch(context.Background(), ChannelIdentity, data))
	assert.Equal(t, 1, calls)
}

func TestDispatcherMalformed(t *testing.T) {
	d := newDispatcher(t)
	d.Register(ChannelIdentity, TopicDatasetDeleted, func(context.Context, Envelope) error {
		t.Fatal("handler must not run")
		return nil
	})

	err := d.Dispatch(context.Background(), ChannelIdentity, []byte(`{"id":"x","topic":"dataset_deleted","payload":{}}`))
	require.ErrorIs(t, err, ErrInvalidPayload)
	assert.True(t, Acknowledge(err))
}

func TestAcknowledge(t *testing.T) {
	assert.True(t, Acknowledge(nil))
	assert.True(t, Acknowledge(ErrInvalidPayload))
	assert.True(t, Acknowledge(apperr.ErrNotFound))
	assert.True(t, Acknowledge(apperr.ErrUnauthorized))
	assert.False(t, Acknowledge(apperr.ErrUpstreamUnavailable))
	assert.False(t, Acknowledge(context.DeadlineExceeded))
}

func TestMemoryBusDelivers(t *testing.T) {
	d := newDispatcher(t)
	bus := NewMemoryBus(d, nil, nil)

	var mu sync.Mutex
	var got []string
	bus.Subscribe(ChannelFiles, TopicImageRemoved, func(_ context.Context, env Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.Payload.(ImageRemoved).URL)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), ChannelFiles, NewEnvelope(ImageRemoved{DatasetID: "ds", URL: "s3://a"}, "")))
	require.NoError(t, bus.Publish(context.Background(), ChannelTrainer, NewEnvelope(ImageRemoved{DatasetID: "ds", URL: "s3://b"}, "")))

	assert.Equal(t, []string{"s3://a"}, got)
}

func TestMemoryBusSwallowsHandlerErrors(t *testing.T) {
	d := newDispatcher(t)
	bus := NewMemoryBus(d, nil, nil)
	bus.Subscribe(ChannelIdentity, TopicDatasetDeleted, func(context.Context, Envelope) error {
		return errors.New("boom")
	})

	err := bus.Publish(context.Background(), ChannelIdentity, NewEnvelope(DatasetDeleted{DatasetID: "ds"}, ""))
	assert.NoError(t, err)
}

func TestMemoryBusRejectsInvalidPayload(t *testing.T) {
	bus := NewMemoryBus(newDispatcher(t), nil, nil)
	err := bus.Publish(context.Background(), ChannelIdentity, NewEnvelope(DatasetDeleted{}, ""))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMemoryBusRunReturnsOnCancel(t *testing.T) {
	bus := NewMemoryBus(newDispatcher(t), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, bus.Run(ctx))
}
