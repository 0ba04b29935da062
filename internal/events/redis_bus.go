package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher accepts events for delivery
type Publisher interface {
	Publish(ev Event)
}

// RedisBus publishes events on a redis channel so every engine instance can
// deliver them to its local hub.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
}

// NewRedisBus creates a bus on channel
func NewRedisBus(client redis.UniversalClient, channel string) *RedisBus {
	if channel == "" {
		channel = "culturebridge:events"
	}
	return &RedisBus{client: client, channel: channel, timeout: 2 * time.Second}
}

// Publish sends ev to the channel; failures are logged and the event is lost
func (b *RedisBus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		slog.Warn("failed to publish event", "type", ev.Type, "user_id", ev.UserID, "error", err)
	}
}

// Forward subscribes to the channel and hands every event to hub until ctx is done
func (b *RedisBus) Forward(ctx context.Context, hub *Hub) error {
	sub := b.client.Subscribe(ctx, b.channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					slog.Warn("bad event payload", "error", err)
					continue
				}
				hub.Publish(ev)
			}
		}
	}()

	return nil
}
