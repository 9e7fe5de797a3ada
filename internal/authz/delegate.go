// Package authz resolves the caller of a request or event into an identity.
//
// Every inbound HTTP request, RPC and event passes through a Delegate before
// its handler runs. The Delegate extracts nothing itself: transport adapters
// hand it the bearer token and the route name, and it decides between an
// authenticated identity, the anonymous identity and rejection based on the
// route's policy.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/metrics"
)

// DefaultTimeout bounds a single token validation call.
const DefaultTimeout = 2 * time.Second

// TokenValidator resolves a bearer token into an identity.
// Implemented by the identity service and by its RPC client.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Identity, error)
}

// Policy is the capability attached to a route.
type Policy struct {
	// Bypass lets the route proceed anonymously when the token is absent or
	// cannot be validated. Write routes must never set it.
	Bypass bool
}

// Policies maps a route name (Connect procedure, HTTP route pattern or event
// route) to its policy.
type Policies map[string]Policy

// Lookup returns the policy of route. Unknown routes fail closed.
func (p Policies) Lookup(route string) Policy {
	return p[route]
}

// Delegate is the single authorization gate shared by all transports.
type Delegate struct {
	validator TokenValidator
	policies  Policies
	timeout   time.Duration
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// Option configures a Delegate.
type Option func(*Delegate)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Delegate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMetrics counts authorization outcomes per route.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Delegate) { g.metrics = c }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Delegate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewDelegate creates a Delegate validating tokens through validator.
func NewDelegate(validator TokenValidator, policies Policies, opts ...Option) *Delegate {
	if policies == nil {
		policies = Policies{}
	}
	d := &Delegate{
		validator: validator,
		policies:  policies,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policies returns the route table.
func (d *Delegate) Policies() Policies {
	return d.policies
}

// Authorize resolves token for route using the route's registered policy.
func (d *Delegate) Authorize(ctx context.Context, route, token string) (auth.Identity, error) {
	return d.AuthorizeWith(ctx, route, token, d.policies.Lookup(route).Bypass)
}

// AuthorizeWith resolves token with an explicit bypass capability. route only
// labels logs and metrics.
//
// With no token the caller is anonymous if bypass is set and unauthorized
// otherwise. A token that fails validation, including a validation call that
// times out or cannot reach the identity service, is handled the same way; in
// the latter case the returned error also matches apperr.ErrUpstreamUnavailable
// so event consumers leave the envelope for redelivery.
func (d *Delegate) AuthorizeWith(ctx context.Context, route, token string, bypass bool) (auth.Identity, error) {
	log := d.logger.With("route", route, "bypass", bypass)

	if token == "" {
		if bypass {
			d.record(log, route, metrics.OutcomeAnonymous, nil)
			return auth.Anonymous, nil
		}
		d.record(log, route, metrics.OutcomeUnauthorized, nil)
		return auth.Anonymous, fmt.Errorf("%s: missing authentication token: %w", route, apperr.ErrUnauthorized)
	}

	identity, err := d.validate(ctx, token)
	if err != nil {
		if bypass {
			d.record(log, route, metrics.OutcomeAnonymous, err)
			return auth.Anonymous, nil
		}
		d.record(log, route, metrics.OutcomeUnauthorized, err)
		return auth.Anonymous, fmt.Errorf("%s: %w", route, unauthorized(err))
	}
	if identity.IsAnonymous() {
		// A validator must never resolve a token to nobody.
		err := errors.New("token resolved to an empty user id")
		if bypass {
			d.record(log, route, metrics.OutcomeAnonymous, err)
			return auth.Anonymous, nil
		}
		d.record(log, route, metrics.OutcomeUnauthorized, err)
		return auth.Anonymous, fmt.Errorf("%s: %w", route, unauthorized(err))
	}

	d.record(log.With("user_id", identity.UserID), route, metrics.OutcomeIdentity, nil)
	return identity, nil
}

// Resolve authorizes token for route and returns ctx carrying the identity and
// the token, ready for the continuation.
func (d *Delegate) Resolve(ctx context.Context, route, token string) (context.Context, auth.Identity, error) {
	identity, err := d.Authorize(ctx, route, token)
	if err != nil {
		return ctx, identity, err
	}
	ctx = auth.WithIdentity(ctx, identity)
	if !identity.IsAnonymous() {
		ctx = auth.WithToken(ctx, token)
	}
	return ctx, identity, nil
}

func (d *Delegate) validate(ctx context.Context, token string) (auth.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	identity, err := d.validator.ValidateToken(ctx, token)
	d.metrics.RecordValidationLatency(time.Since(start))
	if err == nil && ctx.Err() != nil {
		// The validator ignored the deadline; its answer arrived too late.
		err = ctx.Err()
	}
	if err != nil && !errors.Is(err, apperr.ErrUnauthorized) && !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		// No verdict on the token itself: a timeout, a transport failure or a
		// validator fault.
		err = fmt.Errorf("%w: %w", apperr.ErrUpstreamUnavailable, err)
	}
	return identity, err
}

func (d *Delegate) record(log *slog.Logger, route, outcome string, cause error) {
	d.metrics.RecordAuthorization(route, outcome)
	if cause != nil {
		log.Debug("authorization", "outcome", outcome, "cause", cause)
		return
	}
	log.Debug("authorization", "outcome", outcome)
}

// unauthorized keeps ErrUnauthorized as the classification of any validation
// failure while preserving the cause in the chain.
func unauthorized(err error) error {
	if errors.Is(err, apperr.ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)
}
