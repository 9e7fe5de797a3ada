package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boxhub/boxhub/internal/metrics"
)

// MemoryBus is an in-process transport. Envelopes go through the same encode,
// validate and decode path as on the wire, and are delivered on the
// publisher's goroutine with a context detached from the publisher's
// cancellation. Handler failures are logged and never reach the publisher.
type MemoryBus struct {
	dispatcher *Dispatcher
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// NewMemoryBus creates an in-process bus delivering through dispatcher.
func NewMemoryBus(dispatcher *Dispatcher, collector *metrics.Collector, logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{dispatcher: dispatcher, metrics: collector, logger: logger}
}

// Publish validates env and delivers it to the channel's handler, if any.
func (b *MemoryBus) Publish(ctx context.Context, channel string, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		b.metrics.RecordPublishFailure(channel, string(env.Topic))
		return fmt.Errorf("publish %s to %s: %w", env.Topic, channel, err)
	}
	b.metrics.RecordPublished(channel, string(env.Topic))

	// The dispatcher logs and counts handler failures.
	_ = b.dispatcher.Dispatch(context.WithoutCancel(ctx), channel, data)
	return nil
}

// Subscribe registers handler for (channel, topic).
func (b *MemoryBus) Subscribe(channel string, topic Topic, handler Handler) {
	b.dispatcher.Register(channel, topic, handler)
}

// Run blocks until ctx is done; delivery happens inside Publish.
func (b *MemoryBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
