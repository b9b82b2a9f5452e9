package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/schoolwelfare/caseboard/pkg/observability"
)

// DefaultChannel is the Redis channel used when none is configured
const DefaultChannel = "caseboard:permissions:changed"

// RedisBridge forwards local hub events to a Redis channel and relays events
// published by other processes into the local hub
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	logger  *observability.Logger
	ready   chan struct{}
	reload  func(context.Context) error
}

// NewRedisBridge creates a bridge with a random origin id
func NewRedisBridge(client *redis.Client, hub *Hub, channel string, logger *observability.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisBridge{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.WithField("component", "redis_bridge"),
		ready:   make(chan struct{}),
	}
}

// WithReload sets a hook run for every remote event before it is published
// locally. Servers use it to reload shared state written by the other
// process, so local subscribers see the remote change.
func (b *RedisBridge) WithReload(fn func(context.Context) error) *RedisBridge {
	b.reload = fn
	return b
}

// Origin returns the id stamped on events this bridge forwards
func (b *RedisBridge) Origin() string {
	return b.origin
}

// Ready is closed once the Redis subscription is confirmed
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run relays events until ctx is cancelled
func (b *RedisBridge) Run(ctx context.Context) error {
	defer observability.RecoverPanic(b.logger, "redis bridge")

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	local, cancel := b.hub.Subscribe()
	defer cancel()

	remote := pubsub.Channel()
	close(b.ready)
	b.logger.Infof("Relaying permission changes on %s", b.channel)

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-local:
			if !ok {
				return nil
			}
			if e.Origin != "" {
				continue
			}
			e.Origin = b.origin
			if err := b.forward(ctx, e); err != nil {
				b.logger.WithError(err).Warn("Failed to forward permission change")
			}

		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.WithError(err).Warn("Ignoring malformed permission change message")
				continue
			}
			if e.Origin == b.origin || e.Origin == "" {
				continue
			}
			if b.reload != nil {
				if err := b.reload(ctx); err != nil {
					b.logger.WithError(err).WithField("reason", e.Reason).Error("Failed to reload state after remote change")
				}
			}
			b.hub.Publish(e)
		}
	}
}

func (b *RedisBridge) forward(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}
