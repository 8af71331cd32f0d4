package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis stream with a consumer group.
// Pending entries that sit unacknowledged longer than minIdle are
// reclaimed on the next Receive, which is what makes delivery at least
// once across crashed consumers. Multiple processes may share the same
// group; Redis hands each entry to one consumer at a time.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	minIdle  time.Duration
}

// NewRedisQueue returns a queue over the given stream, creating the
// consumer group if it does not exist yet.
func NewRedisQueue(ctx context.Context, client *redis.Client, stream, group, consumer string, minIdle time.Duration) (*RedisQueue, error) {
	if minIdle <= 0 {
		minIdle = 30 * time.Second
	}
	q := &RedisQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		minIdle:  minIdle,
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	return q, nil
}

func (q *RedisQueue) Publish(ctx context.Context, body []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"body": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	return id, nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	// Reclaim entries abandoned by dead consumers before reading new ones.
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", q.stream, err)
	}

	out := make([]Message, 0, max)
	for _, m := range claimed {
		if msg, ok := toMessage(m); ok {
			out = append(out, msg)
		}
	}
	if len(out) >= max {
		return out, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max - len(out)),
		Block:    wait,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			// Bounded wait elapsed with nothing new.
			return out, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", q.stream, err)
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			if msg, ok := toMessage(m); ok {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, id)
	pipe.XDel(ctx, q.stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s on %s: %w", id, q.stream, err)
	}
	return nil
}

func toMessage(m redis.XMessage) (Message, bool) {
	body, ok := m.Values["body"].(string)
	if !ok {
		return Message{}, false
	}
	return Message{ID: m.ID, Body: []byte(body)}, true
}
