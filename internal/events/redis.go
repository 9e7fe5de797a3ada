package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boxhub/boxhub/internal/metrics"
)

const envelopeField = "envelope"

// RedisOptions configures a RedisBus. Zero values select defaults.
type RedisOptions struct {
	// Prefix namespaces stream keys: <prefix>:<channel>:<topic>.
	Prefix string
	// Group is the consumer group; every service reading a channel uses its own.
	Group string
	// Consumer names this process within the group. Defaults to the hostname.
	Consumer string
	// MaxLen caps each stream approximately.
	MaxLen int64
	// Block bounds each XREADGROUP wait.
	Block time.Duration
	// ClaimIdle is how long a message may stay unacknowledged before another
	// consumer claims it for redelivery.
	ClaimIdle time.Duration
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// RedisBus maps every (channel, topic) pair to a Redis stream consumed through
// a consumer group. Messages are acknowledged after a successful or permanently
// failed delivery; transient failures stay pending and are reclaimed after
// ClaimIdle.
type RedisBus struct {
	client     *redis.Client
	dispatcher *Dispatcher
	opts       RedisOptions
}

// NewRedisBus creates a bus on client delivering through dispatcher.
func NewRedisBus(client *redis.Client, dispatcher *Dispatcher, opts RedisOptions) *RedisBus {
	if opts.Prefix == "" {
		opts.Prefix = "boxhub"
	}
	if opts.Group == "" {
		opts.Group = "boxhub"
	}
	if opts.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "consumer"
		}
		opts.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 100_000
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisBus{client: client, dispatcher: dispatcher, opts: opts}
}

// StreamKey returns the stream used for a channel and topic.
func StreamKey(prefix, channel string, topic Topic) string {
	return prefix + ":" + channel + ":" + string(topic)
}

// Publish validates env and appends it to the channel's stream for its topic.
func (b *RedisBus) Publish(ctx context.Context, channel string, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		b.opts.Metrics.RecordPublishFailure(channel, string(env.Topic))
		return fmt.Errorf("publish %s to %s: %w", env.Topic, channel, err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(b.opts.Prefix, channel, env.Topic),
		MaxLen: b.opts.MaxLen,
		Approx: true,
		Values: map[string]any{envelopeField: string(data)},
	}).Err()
	if err != nil {
		b.opts.Metrics.RecordPublishFailure(channel, string(env.Topic))
		return fmt.Errorf("publish %s to %s: %w", env.Topic, channel, err)
	}

	b.opts.Metrics.RecordPublished(channel, string(env.Topic))
	return nil
}

// Subscribe registers handler for (channel, topic). Call before Run.
func (b *RedisBus) Subscribe(channel string, topic Topic, handler Handler) {
	b.dispatcher.Register(channel, topic, handler)
}

// Run creates the consumer groups and delivers messages until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	routes := b.dispatcher.Routes()
	if len(routes) == 0 {
		<-ctx.Done()
		return nil
	}

	channels := make(map[string]string, len(routes))
	streams := make([]string, 0, len(routes))
	for _, r := range routes {
		key := StreamKey(b.opts.Prefix, r.Channel, r.Topic)
		channels[key] = r.Channel
		streams = append(streams, key)

		err := b.client.XGroupCreateMkStream(ctx, key, b.opts.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group for %s: %w", key, err)
		}
	}

	log := b.opts.Logger.With("group", b.opts.Group, "consumer", b.opts.Consumer)
	log.Info("event consumer started", "streams", streams)

	go b.reclaimLoop(ctx, streams, channels)

	args := make([]string, 0, 2*len(streams))
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		result, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.opts.Group,
			Consumer: b.opts.Consumer,
			Streams:  args,
			Count:    32,
			Block:    b.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Error("read from streams failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				b.deliver(ctx, stream.Stream, channels[stream.Stream], msg)
			}
		}
	}
}

func (b *RedisBus) reclaimLoop(ctx context.Context, streams []string, channels map[string]string) {
	ticker := time.NewTicker(b.opts.ClaimIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, stream := range streams {
			messages, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    b.opts.Group,
				Consumer: b.opts.Consumer,
				MinIdle:  b.opts.ClaimIdle,
				Start:    "0-0",
				Count:    32,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					b.opts.Logger.Error("reclaim pending events failed", "stream", stream, "error", err)
				}
				continue
			}
			for _, msg := range messages {
				b.deliver(ctx, stream, channels[stream], msg)
			}
		}
	}
}

func (b *RedisBus) deliver(ctx context.Context, stream, channel string, msg redis.XMessage) {
	data, err := messageData(msg)
	if err == nil {
		err = b.dispatcher.Dispatch(ctx, channel, data)
	}
	if !Acknowledge(err) {
		return
	}
	if ackErr := b.client.XAck(ctx, stream, b.opts.Group, msg.ID).Err(); ackErr != nil {
		b.opts.Logger.Error("acknowledge event failed", "stream", stream, "message_id", msg.ID, "error", ackErr)
	}
}

func messageData(msg redis.XMessage) ([]byte, error) {
	switch v := msg.Values[envelopeField].(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: stream message %s has no %s field", ErrInvalidPayload, msg.ID, envelopeField)
	}
}
