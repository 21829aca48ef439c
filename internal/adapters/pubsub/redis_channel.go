// Package pubsub carries domain events between processes over Redis Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

// RedisChannel implements eventbus.Forwarder and eventbus.Subscriber on one
// Redis channel. Delivery is at most once, like Pub/Sub itself.
type RedisChannel struct {
	client  *redis.Client
	channel string
	buffer  int
}

func NewRedisChannel(client *redis.Client, channel string) *RedisChannel {
	return &RedisChannel{client: client, channel: channel, buffer: 64}
}

func (c *RedisChannel) Forward(ctx context.Context, ev domain.Event) error {
	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, val).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed so that events
// published right after it returns are not missed.
func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ps := c.client.Subscribe(ctx, c.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan domain.Event, c.buffer)
	log := observability.LoggerFromContext(ctx).With("component", "redis_channel", "channel", c.channel)

	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn("dropping malformed event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
