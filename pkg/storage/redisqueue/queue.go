// Package redisqueue implements MB (the message broker) on Redis Streams:
// one stream per priority tier, a ZSET-based delay ring for backoff
// re-delivery, and a dead-letter stream for retry-exhausted jobs.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

const (
	consumerGroup = "workers"
	delayRingKey  = "jobs:delay_ring"
	dlqStream     = "jobs.dlq"

	// fairnessTokens is the number of consecutive reads in high-first order
	// allowed before one read in medium-first order, mirroring a weighted round-robin
	// rather than strict priority so low-priority jobs never starve.
	fairnessTokens = 10
)

// envelope is the wire format published onto every stream.
type envelope struct {
	JobID   uuid.UUID      `json:"job_id"`
	JobType string         `json:"job_type"`
	Payload models.Payload `json:"payload"`
}

// Queue implements storage.Publisher and storage.Consumer over Redis Streams.
type Queue struct {
	client *redis.Client

	mu     sync.Mutex
	tokens int

	stopDelay chan struct{}
}

func New(addr, password string, db int) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Queue{client: client, tokens: fairnessTokens}, nil
}

func (q *Queue) Close() error {
	if q.stopDelay != nil {
		close(q.stopDelay)
	}
	return q.client.Close()
}

var priorities = []models.JobPriority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}

func (q *Queue) EnsureGroups(ctx context.Context) error {
	for _, p := range priorities {
		if err := q.ensureGroup(ctx, p.Queue()); err != nil {
			return err
		}
	}
	return q.ensureGroup(ctx, dlqStream)
}

func (q *Queue) ensureGroup(ctx context.Context, stream string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	return nil
}

func (q *Queue) Publish(ctx context.Context, job *models.Job) error {
	return q.publishTo(ctx, job.Priority.Queue(), job)
}

func (q *Queue) PublishDead(ctx context.Context, job *models.Job) error {
	return q.publishTo(ctx, dlqStream, job)
}

func (q *Queue) publishTo(ctx context.Context, stream string, job *models.Job) error {
	body, err := json.Marshal(envelope{JobID: job.ID, JobType: job.Type, Payload: job.Payload})
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"body":     body,
			"priority": job.Priority.BrokerPriority(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

// PublishDelayed schedules re-delivery by scoring the envelope into the
// delay ring ZSET at `at`'s unix timestamp; a background sweeper moves due
// entries onto their priority stream.
func (q *Queue) PublishDelayed(ctx context.Context, job *models.Job, at time.Time) error {
	body, err := json.Marshal(struct {
		Priority models.JobPriority `json:"priority"`
		envelope
	}{
		Priority: job.Priority,
		envelope: envelope{JobID: job.ID, JobType: job.Type, Payload: job.Payload},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delayed envelope: %w", err)
	}
	return q.client.ZAdd(ctx, delayRingKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: body,
	}).Err()
}

// RunDelaySweeper polls the delay ring every interval and republishes any
// member whose due time has passed, until ctx is cancelled.
func (q *Queue) RunDelaySweeper(ctx context.Context, interval time.Duration) {
	q.stopDelay = make(chan struct{})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopDelay:
			return
		case <-ticker.C:
			q.sweepDelayRing(ctx)
		}
	}
}

func (q *Queue) sweepDelayRing(ctx context.Context) {
	now := float64(time.Now().Unix())
	members, err := q.client.ZRangeByScore(ctx, delayRingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, m := range members {
		var due struct {
			Priority models.JobPriority `json:"priority"`
			envelope
		}
		if err := json.Unmarshal([]byte(m), &due); err != nil {
			q.client.ZRem(ctx, delayRingKey, m)
			continue
		}
		stream := due.Priority.Queue()
		body, _ := json.Marshal(due.envelope)
		q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{
				"body":     body,
				"priority": due.Priority.BrokerPriority(),
			},
		})
		q.client.ZRem(ctx, delayRingKey, m)
	}
}
