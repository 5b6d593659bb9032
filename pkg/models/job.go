package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobPriority is the dispatch tier a job is published under.
type JobPriority string

const (
	PriorityHigh   JobPriority = "high"
	PriorityMedium JobPriority = "medium"
	PriorityLow    JobPriority = "low"
)

// Queue returns the broker stream name for this priority.
func (p JobPriority) Queue() string {
	switch p {
	case PriorityHigh:
		return "jobs.high"
	case PriorityLow:
		return "jobs.low"
	default:
		return "jobs.medium"
	}
}

// BrokerPriority returns the numeric message-priority field (10/5/1).
func (p JobPriority) BrokerPriority() int {
	switch p {
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// JobStatus is the job's position in its state machine.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusRetrying  JobStatus = "retrying"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether status is an absorbing state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Payload is an opaque structured blob interpreted only by the handler
// registered for a job's type.
type Payload map[string]interface{}

func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("payload: type assertion to []byte failed")
	}
	if len(bytes) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(bytes, p)
}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	return json.Marshal(p)
}

// ErrorMessages is a jsonb-stored ordered list of attempt error strings.
type ErrorMessages []string

func (e *ErrorMessages) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("error_messages: type assertion to []byte failed")
	}
	if len(bytes) == 0 {
		*e = nil
		return nil
	}
	return json.Unmarshal(bytes, e)
}

func (e ErrorMessages) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	return json.Marshal(e)
}

// Job is the durable unit of work tracked in MS.
type Job struct {
	ID           uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	Type         string      `json:"type" gorm:"index;not null"`
	Priority     JobPriority `json:"priority" gorm:"type:varchar(10);index;not null;default:'medium'"`
	Status       JobStatus   `json:"status" gorm:"type:varchar(20);index;not null;default:'pending'"`
	Payload      Payload     `json:"payload" gorm:"type:jsonb"`
	MaxRetries   int         `json:"max_retries" gorm:"not null;default:3"`
	RetryCount   int         `json:"retry_count" gorm:"not null;default:0"`
	CreatedAt    time.Time   `json:"created_at" gorm:"index;not null"`
	StartedAt    *time.Time  `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at"`
	ScheduledFor *time.Time  `json:"scheduled_for" gorm:"index"`
	WorkerID     *string     `json:"worker_id"`
	ErrorMessage *string     `json:"error_message"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	return nil
}

// RetryAttempt is one row per dispatch of a given job.
type RetryAttempt struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	JobID           uuid.UUID  `json:"job_id" gorm:"type:uuid;not null;uniqueIndex:idx_job_attempt;index"`
	AttemptNumber   int        `json:"attempt_number" gorm:"not null;uniqueIndex:idx_job_attempt"`
	StartedAt       time.Time  `json:"started_at"`
	FailedAt        time.Time  `json:"failed_at"`
	ErrorMessage    string     `json:"error_message"`
	ErrorTraceback  string     `json:"error_traceback"`
	NextRetryAt     *time.Time `json:"next_retry_at"`
}

func (r *RetryAttempt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// DeadLetter is the application-level quarantine record, at most one per
// job. Distinct from the broker-level jobs.dlq stream.
type DeadLetter struct {
	ID               uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	JobID            uuid.UUID     `json:"job_id" gorm:"type:uuid;not null;uniqueIndex"`
	JobType          string        `json:"job_type" gorm:"not null"`
	Payload          Payload       `json:"payload" gorm:"type:jsonb"`
	TotalAttempts    int           `json:"total_attempts" gorm:"not null"`
	FirstAttemptAt   time.Time     `json:"first_attempt_at"`
	FinalFailureAt   time.Time     `json:"final_failure_at"`
	FailureReason    string        `json:"failure_reason"`
	AllErrorMessages ErrorMessages `json:"all_error_messages" gorm:"type:jsonb"`
}

func (d *DeadLetter) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// ScheduledJob is a recurring template materialized by SCH on cron ticks.
type ScheduledJob struct {
	ID             uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string      `json:"name" gorm:"uniqueIndex;not null"`
	JobType        string      `json:"job_type" gorm:"not null"`
	CronExpression string      `json:"cron_expression" gorm:"not null"`
	Payload        Payload     `json:"payload" gorm:"type:jsonb"`
	Priority       JobPriority `json:"priority" gorm:"type:varchar(10);not null;default:'medium'"`
	IsActive       bool        `json:"is_active" gorm:"not null;default:true;index"`
	LastRunAt      *time.Time  `json:"last_run_at"`
	NextRunAt      time.Time   `json:"next_run_at" gorm:"index;not null"`
}

func (s *ScheduledJob) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// RetryPolicy is the per-job-type backoff configuration from the
// policy table (email/video/scrape), extensible at process start via
// pkg/retry.PolicyTable.
type RetryPolicy struct {
	BaseDelaySeconds float64
	CapSeconds       float64
	MaxRetries       int
}
