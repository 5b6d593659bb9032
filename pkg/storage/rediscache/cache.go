// Package rediscache implements SC (the status cache): a lossy, TTL-bound
// mirror of job status and worker liveness. SC is never authoritative —
// MS is — so every read here tolerates a miss.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arkflow/jobqueue/pkg/models"
)

const (
	jobStatusPrefix = "job:"
	jobStatusSuffix = ":status"
	workerKeyPrefix = "worker/"
)

type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func jobKey(id uuid.UUID) string {
	return jobStatusPrefix + id.String() + jobStatusSuffix
}

func (c *Cache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error {
	return c.client.Set(ctx, jobKey(jobID), string(status), ttl).Err()
}

func (c *Cache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	val, err := c.client.Get(ctx, jobKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return models.JobStatus(val), true, nil
}

func workerKey(workerID string) string {
	return workerKeyPrefix + workerID
}

func (c *Cache) SetHeartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	return c.client.Set(ctx, workerKey(workerID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// ActiveWorkerCount scans live worker/* keys rather than maintaining a
// separate registry, so a crashed worker disappears as soon as its
// heartbeat key expires.
func (c *Cache) ActiveWorkerCount(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, workerKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan worker heartbeats: %w", err)
		}
		for _, k := range keys {
			if strings.HasPrefix(k, workerKeyPrefix) {
				count++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return count, nil
}
