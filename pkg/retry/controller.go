package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/arkflow/jobqueue/pkg/metrics"
	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// Controller is RC: decides, on a handler failure, whether to reschedule a
// job with backoff or quarantine it to the dead-letter store once its
// retry budget is exhausted.
type Controller struct {
	jobs     storage.JobStore
	attempts storage.RetryAttemptStore
	dead     storage.DeadLetterStore
	pub      storage.Publisher
	policies *PolicyTable
}

func NewController(jobs storage.JobStore, attempts storage.RetryAttemptStore, dead storage.DeadLetterStore, pub storage.Publisher, policies *PolicyTable) *Controller {
	return &Controller{jobs: jobs, attempts: attempts, dead: dead, pub: pub, policies: policies}
}

// HandleFailure records the failed attempt, then either reschedules the
// job with a delayed re-publish or quarantines it:
// retry_count increments on every failure, and a job moves to dead-letter
// once the attempt just recorded (retry_count+1) reaches max_retries.
func (c *Controller) HandleFailure(ctx context.Context, job *models.Job, failErr error, startedAt, failedAt time.Time) error {
	attemptNumber := job.RetryCount + 1

	attempt := &models.RetryAttempt{
		JobID:         job.ID,
		AttemptNumber: attemptNumber,
		StartedAt:     startedAt,
		FailedAt:      failedAt,
		ErrorMessage:  failErr.Error(),
	}

	// attemptNumber is the attempt just recorded. Once it reaches
	// MaxRetries, this is the job's last allowed dispatch: quarantine
	// rather than schedule another retry (max_retries=0 quarantines on
	// attempt 1; max_retries=N allows attempts 1..N-1 to retry and
	// quarantines on attempt N, giving exactly N RetryAttempt rows).
	if attemptNumber >= job.MaxRetries {
		return c.Quarantine(ctx, job, attempt, failErr)
	}

	policy := c.policies.Lookup(job.Type)
	delay := Backoff(policy, job.RetryCount)
	nextAt := failedAt.Add(delay)
	attempt.NextRetryAt = &nextAt

	if err := c.withinTx(ctx, func(ctx context.Context) error {
		if err := c.attempts.CreateAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("failed to record retry attempt: %w", err)
		}
		if err := c.jobs.MarkRetrying(ctx, job.ID, nextAt, failErr.Error()); err != nil {
			return fmt.Errorf("failed to mark job retrying: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// MB is outside the MS transaction: a crash here re-delivers the
	// failure on the next sweep of a still-"retrying" job rather than
	// silently dropping it, since MS already committed the transition.
	if err := c.pub.PublishDelayed(ctx, job, nextAt); err != nil {
		return fmt.Errorf("failed to schedule delayed re-delivery: %w", err)
	}
	metrics.RetriesTotal.WithLabelValues(job.Type).Inc()
	return nil
}

// Quarantine records lastAttempt and moves job straight to dead-letter,
// bypassing the retry budget entirely. Exported so callers holding a
// terminal, non-retryable failure (an unregistered job type, for example)
// can force this path instead of going through HandleFailure's budget
// check.
func (c *Controller) Quarantine(ctx context.Context, job *models.Job, lastAttempt *models.RetryAttempt, failErr error) error {
	var dl *models.DeadLetter

	if err := c.withinTx(ctx, func(ctx context.Context) error {
		if err := c.attempts.CreateAttempt(ctx, lastAttempt); err != nil {
			return fmt.Errorf("failed to record final retry attempt: %w", err)
		}

		history, err := c.attempts.ListAttempts(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to list retry attempts for dead-letter: %w", err)
		}
		messages := make(models.ErrorMessages, 0, len(history))
		firstAttemptAt := lastAttempt.StartedAt
		for _, a := range history {
			messages = append(messages, a.ErrorMessage)
			if a.StartedAt.Before(firstAttemptAt) {
				firstAttemptAt = a.StartedAt
			}
		}

		dl = &models.DeadLetter{
			JobID:            job.ID,
			JobType:          job.Type,
			Payload:          job.Payload,
			TotalAttempts:    len(history),
			FirstAttemptAt:   firstAttemptAt,
			FinalFailureAt:   lastAttempt.FailedAt,
			FailureReason:    failErr.Error(),
			AllErrorMessages: messages,
		}
		if err := c.dead.CreateDeadLetter(ctx, dl); err != nil {
			return fmt.Errorf("failed to create dead letter: %w", err)
		}
		if err := c.jobs.MarkFailed(ctx, job.ID, failErr.Error()); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.pub.PublishDead(ctx, job); err != nil {
		return fmt.Errorf("failed to route job to dead-letter stream: %w", err)
	}
	metrics.DeadLettersTotal.WithLabelValues(job.Type).Inc()
	return nil
}

// withinTx runs fn under a single MS transaction when jobs implements
// storage.Transactor, and runs it directly against ctx otherwise — so
// stores without transactional support (a test fake, say) still work,
// just without the atomicity guarantee.
func (c *Controller) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := c.jobs.(storage.Transactor); ok {
		return tx.Transaction(ctx, fn)
	}
	return fn(ctx)
}

// MaxRetriesFor exposes the policy table's retry budget for jobType.
// lifecycle.Manager.Submit does not consult it: a job submitted without
// MaxRetries gets lifecycle.DefaultMaxRetries.
func (c *Controller) MaxRetriesFor(jobType string) int {
	return c.policies.Lookup(jobType).MaxRetries
}
