// Package lifecycle implements LM: job submission and the externally
// visible state transitions.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// Manager is LM, constructed once at process start with its long-lived
// collaborators.
type Manager struct {
	jobs  storage.JobStore
	cache storage.StatusCache
	pub   storage.Publisher
}

func NewManager(jobs storage.JobStore, cache storage.StatusCache, pub storage.Publisher) *Manager {
	return &Manager{jobs: jobs, cache: cache, pub: pub}
}

// DefaultMaxRetries is applied when SubmitInput.MaxRetries is nil, i.e.
// the caller didn't specify a budget at all.
const DefaultMaxRetries = 3

// SubmitInput is the caller-supplied shape of a new job; Priority
// defaults when zero-valued. MaxRetries is a pointer so an explicit
// 0 (single failure quarantines immediately) can be told apart from
// "not provided" (DefaultMaxRetries applies) — a plain int can't
// distinguish the two since both are the zero value.
type SubmitInput struct {
	Type         string
	Priority     models.JobPriority
	Payload      models.Payload
	MaxRetries   *int
	ScheduledFor *time.Time
}

const statusCacheTTL = 3600 * time.Second

// Submit persists a new pending job to MS, mirrors its status to SC, then
// publishes it to MB. MS commit happens before MB publish so a crash
// between the two leaves, at worst, a pending job nobody has dispatched
// yet rather than a dispatched job MS never recorded.
func (m *Manager) Submit(ctx context.Context, in SubmitInput) (*models.Job, error) {
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	maxRetries := DefaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}

	job := &models.Job{
		Type:         in.Type,
		Priority:     in.Priority,
		Status:       models.StatusPending,
		Payload:      in.Payload,
		MaxRetries:   maxRetries,
		ScheduledFor: in.ScheduledFor,
	}
	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	_ = m.cache.SetJobStatus(ctx, job.ID, models.StatusPending, statusCacheTTL)

	// A scheduled_for in the future must not appear on any queue until
	// that time arrives; it is released via the same delayed re-delivery
	// mechanism RC uses for backoff.
	now := time.Now().UTC()
	if job.ScheduledFor != nil && job.ScheduledFor.After(now) {
		if err := m.pub.PublishDelayed(ctx, job, *job.ScheduledFor); err != nil {
			return nil, fmt.Errorf("failed to schedule deferred publish: %w", err)
		}
		return job, nil
	}

	if err := m.pub.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to publish job: %w", err)
	}
	return job, nil
}

// MarkRunning transitions a job to running. SC is updated best-effort; a
// stale or missing cache entry never blocks the MS-authoritative
// transition.
func (m *Manager) MarkRunning(ctx context.Context, jobID uuid.UUID, workerID string) error {
	if err := m.jobs.MarkRunning(ctx, jobID, workerID, time.Now().UTC()); err != nil {
		return err
	}
	_ = m.cache.SetJobStatus(ctx, jobID, models.StatusRunning, statusCacheTTL)
	return nil
}

func (m *Manager) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	if err := m.jobs.MarkCompleted(ctx, jobID, time.Now().UTC()); err != nil {
		return err
	}
	_ = m.cache.SetJobStatus(ctx, jobID, models.StatusCompleted, statusCacheTTL)
	return nil
}

// Cancel transitions a pending, retrying, or running job to cancelled.
// There is no mechanism to interrupt a worker already executing the job;
// the transition only prevents the *next* lifecycle step
// (mark_completed/handle_failure) from taking effect, since those
// preconditions require status=running and will now see cancelled.
func (m *Manager) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := m.jobs.MarkCancelled(ctx, jobID); err != nil {
		return err
	}
	_ = m.cache.SetJobStatus(ctx, jobID, models.StatusCancelled, statusCacheTTL)
	return nil
}

func (m *Manager) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return m.jobs.GetJob(ctx, jobID)
}

func (m *Manager) List(ctx context.Context, status models.JobStatus, jobType string, limit, offset int) ([]models.Job, error) {
	return m.jobs.ListJobs(ctx, status, jobType, limit, offset)
}
