package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/events"
)

const channelPrefix = "helpdesk:room:"

// RedisBroadcaster fans events out across nodes over Redis pub/sub. Each
// room maps to one channel; every node's hub consumes the subscription and
// delivers to its local sessions. When Redis is unreachable the event is
// delivered to local sessions only.
type RedisBroadcaster struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisBroadcaster wraps the hub with cross-node fan-out.
func NewRedisBroadcaster(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, hub: hub, logger: logger}
}

// Publish sends the event to the room's channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, room string, event events.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channelPrefix+room, raw).Err(); err != nil {
		b.logger.Warn("redis publish failed; delivering locally only",
			zap.String("room", room), zap.Error(err))
		return b.hub.Publish(ctx, room, event)
	}
	return nil
}

// Run consumes the room channels and feeds the local hub until ctx is
// cancelled. Intended to run as a single goroutine per node.
func (b *RedisBroadcaster) Run(ctx context.Context) {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("malformed broadcast payload", zap.Error(err))
				continue
			}
			room := strings.TrimPrefix(msg.Channel, channelPrefix)
			_ = b.hub.Publish(ctx, room, event)
		}
	}
}
