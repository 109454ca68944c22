// Package bus provides the publish/subscribe fan-out adapter that
// replicates gateway events across instances and carries orchestration
// notifications.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Well-known channels.
const (
	// ChannelRoomNotifications carries orchestration "room created"
	// announcements.
	ChannelRoomNotifications = "room.notifications"
	// ChannelChatEvents multiplexes all cross-instance gateway
	// broadcasts; the room id travels in the payload.
	ChannelChatEvents = "chat.events"
)

// RoomNotification is an orchestration announcement of a new room.
type RoomNotification struct {
	RoomID    string   `json:"roomId"`
	Players   []string `json:"players"`
	Mode      string   `json:"mode"`
	Timestamp int64    `json:"timestamp"`
}

// RoomEvent is a gateway broadcast replicated to every instance.
// ExcludeID names an identity whose connections must not receive the
// event (the actor of join/typing notifications).
type RoomEvent struct {
	RoomID    string          `json:"roomId"`
	Event     string          `json:"event"`
	ExcludeID string          `json:"exclude,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Handler consumes one published payload. Invoked once per event per
// subscribing instance; delivery is best-effort, at-most-once, no replay.
type Handler func(ctx context.Context, payload []byte)

// Bus is a thin adapter over the store's pub/sub primitives.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

// New creates a Bus.
//
// Precondition: rdb and logger must be non-nil.
func New(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

// Publish sends v, JSON-encoded, to every instance subscribed to the
// channel (including this one).
func (b *Bus) Publish(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event for channel %s: %w", channel, err)
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler for the channel and starts consuming in
// a background goroutine until ctx is cancelled or the Bus is closed.
//
// Precondition: handler must be non-nil.
// Postcondition: The subscription is confirmed by the store before return.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub := b.rdb.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so callers do not race
	// their first publish against it.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing to channel %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(ctx, []byte(msg.Payload))
			}
		}
	}()

	b.logger.Info("subscribed to channel", zap.String("channel", channel))
	return nil
}

// Close terminates all subscriptions and waits for their consumers.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	b.wg.Wait()
}
