package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/types"
)

// DefaultChannel is the Redis pub/sub channel lifecycle events go to.
const DefaultChannel = "continuum:events"

// RedisBus publishes lifecycle events to Redis pub/sub so sibling
// processes (dashboards, schedulers) can observe workflow transitions.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewRedisBus creates a Redis-backed bus. channel falls back to
// DefaultChannel when empty.
func NewRedisBus(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "redis_event_bus")),
	}
}

// Publish serializes the event and publishes it to the configured
// channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return types.NewError(types.ErrInternalError, "marshal event").WithCause(err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("redis publish failed",
			zap.String("type", string(event.Type)),
			zap.String("workflow_id", event.WorkflowID),
			zap.Error(err))
		return types.NewError(types.ErrServiceUnavailable, "publish event").WithCause(err)
	}
	return nil
}

// Tee publishes every event to all underlying buses, returning the
// first error after attempting each one.
type Tee []Bus

func (t Tee) Publish(ctx context.Context, event Event) error {
	var first error
	for _, bus := range t {
		if err := bus.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
