package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arkflow/jobqueue/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// JobStore is MS's view of the Job lifecycle.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus, jobType string, limit, offset int) ([]models.Job, error)

	// MarkRunning transitions pending/retrying -> running, recording the
	// worker and start time. Returns ErrConflict if the job isn't in a
	// startable state (concurrent delivery of the same message).
	MarkRunning(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error

	// MarkCompleted transitions running -> completed.
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error

	// MarkFailed transitions running (or a never-run pending/retrying job)
	// -> failed (terminal, quarantined).
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	// MarkRetrying transitions running -> retrying, incrementing RetryCount
	// and recording the next scheduled attempt time.
	MarkRetrying(ctx context.Context, id uuid.UUID, scheduledFor time.Time, errorMessage string) error

	// MarkCancelled transitions pending/retrying/running -> cancelled.
	// There is no mechanism to interrupt a worker already executing the
	// job; this only pre-empts its next MS-visible transition.
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// CountByStatus backs the statistics aggregator.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// Transactor lets a caller run a sequence of store writes atomically
// against MS, when the concrete store backs JobStore/RetryAttemptStore/
// DeadLetterStore with a single transactional database. Not every
// storage.JobStore implementation needs to support this — RC type-asserts
// for it and falls back to per-call writes otherwise.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RetryAttemptStore records one row per dispatch attempt.
type RetryAttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *models.RetryAttempt) error
	ListAttempts(ctx context.Context, jobID uuid.UUID) ([]models.RetryAttempt, error)
}

// DeadLetterStore records terminal, retry-exhausted jobs.
type DeadLetterStore interface {
	CreateDeadLetter(ctx context.Context, dl *models.DeadLetter) error
	GetDeadLetter(ctx context.Context, jobID uuid.UUID) (*models.DeadLetter, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]models.DeadLetter, error)
}

// ScheduledJobStore is SCH's durable view of recurring templates.
type ScheduledJobStore interface {
	CreateScheduledJob(ctx context.Context, sj *models.ScheduledJob) error
	GetScheduledJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error)
	ListActive(ctx context.Context) ([]models.ScheduledJob, error)

	// ListDue finds active schedules with NextRunAt <= asOf, for catch-up
	// semantics: one fire per overdue schedule, never a backlog.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]models.ScheduledJob, error)

	// UpdateNextRun advances NextRunAt strictly past asOf and records LastRunAt.
	UpdateNextRun(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error
}

// Publisher is MB's producer side: priority-routed delivery with
// at-least-once semantics and optional delayed re-delivery.
type Publisher interface {
	// Publish enqueues a job envelope onto the stream for its priority.
	Publish(ctx context.Context, job *models.Job) error

	// PublishDelayed schedules re-delivery of an already-attempted job at
	// a future time, used by RC for backoff.
	PublishDelayed(ctx context.Context, job *models.Job, at time.Time) error

	// PublishDead routes a retry-exhausted job to the dead-letter stream.
	PublishDead(ctx context.Context, job *models.Job) error
}

// Delivery is one received, not-yet-acknowledged message handed to a worker.
type Delivery struct {
	MsgID    string
	Priority models.JobPriority
	JobID    uuid.UUID
	JobType  string
	Payload  models.Payload
}

// Consumer is MB's consumer side: fairness-aware polling across priority
// streams plus explicit acknowledgement.
type Consumer interface {
	EnsureGroups(ctx context.Context) error

	// Consume blocks until a message is available on any priority stream,
	// applying the fairness-token discipline across high/medium/low,
	// or returns early if ctx is done.
	Consume(ctx context.Context, consumerName string) (*Delivery, error)

	Ack(ctx context.Context, d *Delivery) error
}

// StatusCache is SC: a lossy, TTL-bound mirror of job status and worker
// liveness, never authoritative over MS.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.JobStatus, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatus, bool, error)

	// SetHeartbeat refreshes a worker's liveness key.
	SetHeartbeat(ctx context.Context, workerID string, ttl time.Duration) error

	// ActiveWorkerCount scans live heartbeat keys.
	ActiveWorkerCount(ctx context.Context) (int, error)
}
