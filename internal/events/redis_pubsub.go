package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Channel is the Redis channel carrying admin change events.
	Channel        = "federation:events"
	publishTimeout = 5 * time.Second
)

// RedisPubSub publishes events to Redis so every server instance can forward
// them to its own WebSocket clients.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Publish implements Publisher.
func (r *RedisPubSub) Publish(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("marshal event", zap.String("type", e.Type), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, Channel, body).Err(); err != nil {
		r.logger.Warn("publish event", zap.String("type", e.Type), zap.Error(err))
	}
}

// Subscribe delivers every event on Channel to handler until cancel is called.
func (r *RedisPubSub) Subscribe(handler func(Event)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					r.logger.Debug("drop malformed event", zap.Error(err))
					continue
				}
				handler(e)
			}
		}
	}()
	return cancelCtx, nil
}
