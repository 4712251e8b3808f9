package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher forwards events to a Redis pub/sub channel for other
// helpdesk services.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher builds a publisher for channel.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Handle is an EventHandler that publishes event as JSON.
func (p *RedisPublisher) Handle(ctx context.Context, event Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// Register subscribes the publisher to every workflow event type.
func (p *RedisPublisher) Register(d Dispatcher) {
	for _, t := range []EventType{EventTaskCreated, EventApprovalRequested, EventApprovalDecided, EventTaskExecuted} {
		d.Subscribe(t, p.Handle)
	}
}
