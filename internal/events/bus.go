package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/metrics"
)

// Handler processes one decoded envelope. Returning an error classified as
// permanent by apperr.Permanent drops the event; any other error leaves it
// for redelivery where the transport supports it.
type Handler func(ctx context.Context, env Envelope) error

// Publisher sends envelopes to a channel. Publishing is fire-and-forget: a nil
// error means the transport accepted the envelope, not that it was handled.
type Publisher interface {
	Publish(ctx context.Context, channel string, env Envelope) error
}

// Subscriber registers handlers and delivers events to them until ctx ends.
type Subscriber interface {
	Subscribe(channel string, topic Topic, handler Handler)
	Run(ctx context.Context) error
}

// Bus is a transport that both publishes and delivers.
type Bus interface {
	Publisher
	Subscriber
}

// DefaultDedupeSize bounds the number of recently handled envelope ids kept
// per dispatcher.
const DefaultDedupeSize = 4096

// Route identifies a subscription.
type Route struct {
	Channel string
	Topic   Topic
}

// Dispatcher routes raw envelopes to registered handlers. It decodes and
// validates every envelope before a handler sees it, and skips envelope ids it
// has already handled. Transports share it so both behave the same.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Route]Handler
	seen     *lru.Cache[string, struct{}]
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics records consumption outcomes.
func WithMetrics(c *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = c }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher remembering up to dedupeSize handled ids.
func NewDispatcher(dedupeSize int, opts ...DispatcherOption) (*Dispatcher, error) {
	if dedupeSize <= 0 {
		dedupeSize = DefaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	d := &Dispatcher{
		handlers: make(map[Route]Handler),
		seen:     seen,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Register binds handler to a (channel, topic) pair, replacing any previous one.
func (d *Dispatcher) Register(channel string, topic Topic, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[Route{Channel: channel, Topic: topic}] = handler
}

// Routes returns the registered subscriptions.
func (d *Dispatcher) Routes() []Route {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Route, 0, len(d.handlers))
	for r := range d.handlers {
		out = append(out, r)
	}
	return out
}

// Dispatch decodes data and runs the matching handler.
//
// It returns nil when the event was handled, was a duplicate or had no
// handler. Invalid envelopes and permanent handler failures are returned
// wrapped but are safe to acknowledge; see apperr.Permanent.
func (d *Dispatcher) Dispatch(ctx context.Context, channel string, data []byte) error {
	env, err := Decode(data)
	if err != nil {
		d.logger.Warn("rejecting malformed event", "channel", channel, "error", err)
		d.metrics.RecordConsumed(channel, "unknown", metrics.EventRejected)
		return err
	}

	log := d.logger.With("channel", channel, "topic", env.Topic, "event_id", env.ID)

	d.mu.RLock()
	handler, ok := d.handlers[Route{Channel: channel, Topic: env.Topic}]
	d.mu.RUnlock()
	if !ok {
		log.Debug("no handler for event")
		d.metrics.RecordConsumed(channel, string(env.Topic), metrics.EventIgnored)
		return nil
	}

	if d.seen.Contains(env.ID) {
		log.Debug("skipping duplicate event")
		d.metrics.RecordConsumed(channel, string(env.Topic), metrics.EventDuplicate)
		return nil
	}

	if err := handler(ctx, env); err != nil {
		if apperr.Permanent(err) {
			d.seen.Add(env.ID, struct{}{})
			log.Warn("event rejected", "error", err)
			d.metrics.RecordConsumed(channel, string(env.Topic), metrics.EventRejected)
			return fmt.Errorf("handle %s: %w", env.Topic, err)
		}
		log.Error("event handler failed", "error", err)
		d.metrics.RecordConsumed(channel, string(env.Topic), metrics.EventRetry)
		return fmt.Errorf("handle %s: %w", env.Topic, err)
	}

	d.seen.Add(env.ID, struct{}{})
	d.metrics.RecordConsumed(channel, string(env.Topic), metrics.EventHandled)
	return nil
}

// Acknowledge reports whether a Dispatch result means the message can be
// removed from the transport.
func Acknowledge(err error) bool {
	return err == nil || apperr.Permanent(err)
}
