package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPresence carries audience counts over Redis pub/sub so every
// instance broadcasts the same number. Data events do not pass through
// here; they ride the store's own channels.
type RedisPresence struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPresence creates a presence bridge over the shared Redis client.
// Channels are namespaced under the same prefix as the store's keys, so
// deployments sharing one Redis never cross-talk.
func NewRedisPresence(client *redis.Client, prefix string, logger *zap.Logger) *RedisPresence {
	return &RedisPresence{client: client, prefix: prefix, logger: logger}
}

func (p *RedisPresence) channel(code string) string {
	return p.prefix + "presence:" + code
}

type presenceEvent struct {
	Count int `json:"count"`
}

// PublishAudience announces the local audience count for a session.
func (p *RedisPresence) PublishAudience(code string, count int) error {
	data, err := json.Marshal(presenceEvent{Count: count})
	if err != nil {
		return err
	}
	if err := p.client.Publish(context.Background(), p.channel(code), data).Err(); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

// SubscribeAudience delivers every announced count for a session until the
// returned cancel runs.
func (p *RedisPresence) SubscribeAudience(code string, handler func(count int)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := p.client.Subscribe(ctx, p.channel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev presenceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Warn("bad presence payload", zap.String("session", code), zap.Error(err))
					continue
				}
				handler(ev.Count)
			}
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}
