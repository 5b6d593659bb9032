package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// Consume polls high/medium/low in a weighted round-robin: while tokens
// remain, streams are tried high first and each successful read spends a
// token; once exhausted, the next read tries medium, then low, then high,
// and that read resets the token budget. A message whose envelope cannot
// be decoded is returned as an error; a truly empty set falls through to a
// blocking multi-stream read so the worker doesn't spin.
func (q *Queue) Consume(ctx context.Context, consumerName string) (*storage.Delivery, error) {
	q.mu.Lock()
	tokens := q.tokens
	q.mu.Unlock()

	order := []models.JobPriority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}
	if tokens <= 0 {
		order = []models.JobPriority{models.PriorityMedium, models.PriorityLow, models.PriorityHigh}
	}

	for _, p := range order {
		d, err := q.tryRead(ctx, p, consumerName, 0)
		if err != nil {
			return nil, err
		}
		if d != nil {
			q.mu.Lock()
			if tokens <= 0 {
				q.tokens = fairnessTokens
			} else {
				q.tokens--
			}
			q.mu.Unlock()
			return d, nil
		}
	}

	// Nothing ready on a non-blocking pass; block across all three so we
	// wake immediately once any stream gets a message.
	return q.blockingRead(ctx, consumerName)
}

func (q *Queue) tryRead(ctx context.Context, p models.JobPriority, consumerName string, block time.Duration) (*storage.Delivery, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{p.Queue(), ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from %s: %w", p.Queue(), err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	return decodeDelivery(p, res[0].Messages[0])
}

func (q *Queue) blockingRead(ctx context.Context, consumerName string) (*storage.Delivery, error) {
	streams := make([]string, 0, len(priorities)*2)
	for _, p := range priorities {
		streams = append(streams, p.Queue())
	}
	for range priorities {
		streams = append(streams, ">")
	}
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  streams,
		Count:    1,
		Block:    2 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed blocking read: %w", err)
	}
	for _, s := range res {
		if len(s.Messages) == 0 {
			continue
		}
		p := priorityForStream(s.Stream)
		return decodeDelivery(p, s.Messages[0])
	}
	return nil, nil
}

func priorityForStream(stream string) models.JobPriority {
	for _, p := range priorities {
		if p.Queue() == stream {
			return p
		}
	}
	return models.PriorityMedium
}

func decodeDelivery(p models.JobPriority, msg redis.XMessage) (*storage.Delivery, error) {
	bodyStr, ok := msg.Values["body"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s missing body field", msg.ID)
	}
	var env envelope
	if err := json.Unmarshal([]byte(bodyStr), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope for %s: %w", msg.ID, err)
	}
	return &storage.Delivery{
		MsgID:    msg.ID,
		Priority: p,
		JobID:    env.JobID,
		JobType:  env.JobType,
		Payload:  env.Payload,
	}, nil
}

func (q *Queue) Ack(ctx context.Context, d *storage.Delivery) error {
	return q.client.XAck(ctx, d.Priority.Queue(), consumerGroup, d.MsgID).Err()
}
