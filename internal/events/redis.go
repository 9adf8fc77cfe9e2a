package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends events to a Redis stream for external indexers.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisStreamPublisher publishes into the named stream.
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream}
}

// Publish XADDs the event. Consumers order by the seq field, not the
// stream entry id.
func (p *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"seq":       strconv.FormatUint(event.Seq, 10),
			"id":        event.ID,
			"name":      event.Name,
			"subject":   event.Subject,
			"payload":   string(payload),
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
		},
	}).Err()
}
