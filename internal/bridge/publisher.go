package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Publisher delivers an event to every client following a conversation,
// wherever that client is connected.
type Publisher interface {
	Publish(ctx context.Context, conversationID, event string, data any) error
}

// LocalPublisher delivers straight to an in-process hub.
type LocalPublisher struct {
	hub *Hub
}

// NewLocalPublisher creates a publisher for hub.
func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

// Publish implements Publisher.
func (p *LocalPublisher) Publish(ctx context.Context, conversationID, event string, data any) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	p.hub.Deliver(conversationID, frame)
	return nil
}

// ChannelName is the Redis channel carrying events under root.
func ChannelName(root string) string {
	return root + "_events"
}

type relayMessage struct {
	ConversationID string          `json:"conversation_id"`
	Frame          json.RawMessage `json:"frame"`
}

// RedisPublisher fans events out over Redis pub/sub, so background workers
// reach clients connected to any server process.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a publisher on the channel for root.
func NewRedisPublisher(rdb redis.UniversalClient, root string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: ChannelName(root)}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, conversationID, event string, data any) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(relayMessage{ConversationID: conversationID, Frame: frame})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// Relay feeds events published on the channel for root into hub until ctx
// is done. ready, if not nil, is closed once the subscription is active.
func Relay(ctx context.Context, rdb redis.UniversalClient, root string, hub *Hub, logger zerolog.Logger, ready chan<- struct{}) error {
	channel := ChannelName(root)
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if ready != nil {
		close(ready)
	}
	logger.Info().Str("channel", channel).Msg("relaying chat events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rm relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
				logger.Warn().Err(err).Msg("malformed relay message")
				continue
			}
			hub.Deliver(rm.ConversationID, rm.Frame)
		}
	}
}
