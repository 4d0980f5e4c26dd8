package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chargehub/backend/services/charging-service/internal/metrics"
)

// DefaultChannel is the pub/sub channel events are relayed on.
const DefaultChannel = "chargehub:session-events"

// Relay publishes events to redis so every replica's local hub can deliver them.
type Relay struct {
	client  *redis.Client
	channel string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRelay returns relay on channel; an empty channel uses DefaultChannel.
func NewRelay(client *redis.Client, channel string, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, metrics: m, logger: logger.Named("relay")}
}

// Notify publishes e. Failures are logged and dropped.
func (r *Relay) Notify(ctx context.Context, e Event) {
	msg, err := Encode(e)
	if err != nil {
		r.logger.Error("encode event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		r.metrics.Notification("redis", "failed")
		r.logger.Warn("publish event", zap.Int64("session_id", e.SessionID()), zap.Error(err))
		return
	}
	r.metrics.Notification("redis", "published")
}

// Run forwards relayed events to local until ctx is done.
func (r *Relay) Run(ctx context.Context, local Notifier) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("drop malformed relayed event", zap.Error(err))
				continue
			}
			local.Notify(ctx, e)
		}
	}
}
