// Package servicetest wires the identity, registry and training services over
// an in-memory database and the in-process event bus for tests.
package servicetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/authz"
	"github.com/boxhub/boxhub/internal/db/dbtest"
	"github.com/boxhub/boxhub/internal/events"
	"github.com/boxhub/boxhub/internal/repository"
	"github.com/boxhub/boxhub/internal/services/identity"
	"github.com/boxhub/boxhub/internal/services/registry"
	"github.com/boxhub/boxhub/internal/services/training"
)

// MissingID is a well-formed id that no fixture ever creates.
const MissingID = "00000000-0000-7000-8000-000000000000"

// Harness is a single-process deployment of every service.
type Harness struct {
	DB           *bun.DB
	Bus          *events.MemoryBus
	Gate         *authz.Delegate
	Identity     *identity.Service
	Registry     *registry.Service
	Training     *training.Service
	Datasets     *repository.BunDatasetRepository
	Entitlements *repository.BunEntitlementRepository
	Recorder     *Recorder
}

// Option adjusts the harness before the services are built.
type Option func(*options)

type options struct {
	publisher func(events.Publisher) events.Publisher
}

// WithPublisher wraps the publisher handed to the registry and training services.
func WithPublisher(wrap func(events.Publisher) events.Publisher) Option {
	return func(o *options) { o.publisher = wrap }
}

// New builds the harness.
func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()

	o := options{publisher: func(p events.Publisher) events.Publisher { return p }}
	for _, opt := range opts {
		opt(&o)
	}

	db := dbtest.Open(t)

	signer, err := auth.NewSigner([]byte("servicetest-secret"), time.Hour)
	require.NoError(t, err)

	dispatcher, err := events.NewDispatcher(0)
	require.NoError(t, err)
	bus := events.NewMemoryBus(dispatcher, nil, nil)

	h := &Harness{
		DB:           db,
		Bus:          bus,
		Datasets:     repository.NewBunDatasetRepository(db),
		Entitlements: repository.NewBunEntitlementRepository(db),
		Recorder:     NewRecorder(),
	}

	publisher := o.publisher(bus)
	h.Registry = registry.NewService(registry.Dependencies{
		Datasets: h.Datasets,
		Events:   publisher,
	})

	h.Identity = identity.NewService(identity.Dependencies{
		Users:        repository.NewBunUserRepository(db),
		Sessions:     repository.NewBunSessionRepository(db),
		Entitlements: h.Entitlements,
		Datasets:     h.Registry,
		Signer:       signer,
	})
	h.Gate = authz.NewDelegate(h.Identity, nil)

	h.Training = training.NewService(training.Dependencies{
		Datasets: h.Datasets,
		Access:   h.Registry,
		Events:   publisher,
	})

	h.Identity.Subscribe(bus, h.Gate)
	h.Registry.Subscribe(bus, h.Gate)
	h.Training.Subscribe(bus, h.Gate)
	h.Recorder.Subscribe(bus)

	return h
}

// User is a registered user with a live token.
type User struct {
	ID    string
	Token string
}

// User registers email and issues a token for it.
func (h *Harness) User(t testing.TB, email string) User {
	t.Helper()
	ctx := context.Background()

	u, err := h.Identity.CreateUser(ctx, email, "correct horse")
	require.NoError(t, err)
	tok, err := h.Identity.IssueToken(ctx, u.ID)
	require.NoError(t, err)
	return User{ID: u.ID, Token: tok.Value}
}

// As resolves u's current identity and returns a context carrying it, the way
// the transport adapters would.
func (h *Harness) As(t testing.TB, u User) (context.Context, auth.Identity) {
	t.Helper()

	identity, err := h.Identity.ValidateToken(context.Background(), u.Token)
	require.NoError(t, err)

	ctx := auth.WithIdentity(context.Background(), identity)
	ctx = auth.WithToken(ctx, u.Token)
	return ctx, identity
}

// Recorder captures envelopes sent to external collaborators.
type Recorder struct {
	mu   sync.Mutex
	seen map[events.Route][]events.Envelope
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[events.Route][]events.Envelope)}
}

// Subscribe records the billing, file storage and trainer routes.
func (r *Recorder) Subscribe(sub events.Subscriber) {
	for _, route := range []events.Route{
		{Channel: events.ChannelBilling, Topic: events.TopicDatasetCreated},
		{Channel: events.ChannelFiles, Topic: events.TopicImageRemoved},
		{Channel: events.ChannelTrainer, Topic: events.TopicTrain},
	} {
		sub.Subscribe(route.Channel, route.Topic, func(_ context.Context, env events.Envelope) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seen[route] = append(r.seen[route], env)
			return nil
		})
	}
}

// Envelopes returns what was recorded for a route.
func (r *Recorder) Envelopes(channel string, topic events.Topic) []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Envelope(nil), r.seen[events.Route{Channel: channel, Topic: topic}]...)
}

// FailingPublisher rejects every envelope.
type FailingPublisher struct{ Err error }

// Publish returns p.Err.
func (p FailingPublisher) Publish(context.Context, string, events.Envelope) error {
	return p.Err
}
