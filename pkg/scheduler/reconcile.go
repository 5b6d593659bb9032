package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/metrics"
	"github.com/arkflow/jobqueue/pkg/models"
)

// staleRunningThreshold is how long a job may sit in "running" with no
// terminal transition before the reconciler treats its worker as dead and
// requeues it for retry.
const staleRunningThreshold = 10 * time.Minute

// orphanRetryGrace is how far past its own next_retry_at a "retrying" job
// may sit before the reconciler assumes the post-MS-commit publish to MB
// never happened and republishes it directly.
const orphanRetryGrace = 2 * time.Minute

// Reconcile runs both background repair scans:
// jobs stuck in "running" past staleRunningThreshold (worker crashed
// mid-handler, never reported failure) are routed back through RC as a
// failure; jobs stuck in "retrying" whose next_retry_at has long passed
// (the MS commit that set retrying succeeded but the matching MB publish
// was lost) are republished directly, with no RC involvement since no new
// attempt or retry_count change occurred.
func (c *Core) Reconcile(ctx context.Context) error {
	if err := c.reapStaleRunning(ctx); err != nil {
		return err
	}
	return c.republishOrphanRetries(ctx)
}

func (c *Core) reapStaleRunning(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-staleRunningThreshold)

	stale, err := c.jobs.ListJobs(ctx, models.StatusRunning, "", 500, 0)
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}

	reaped := 0
	for i := range stale {
		job := stale[i]
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}
		reapErr := fmt.Errorf("worker heartbeat lost: job exceeded max running duration without completion")
		if err := c.rc.HandleFailure(ctx, &job, reapErr, *job.StartedAt, time.Now().UTC()); err != nil {
			c.log.Error("failed to reap stale job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		reaped++
	}
	if reaped > 0 {
		metrics.StaleJobsReaped.Add(float64(reaped))
		c.log.Info("reaped stale running jobs", zap.Int("count", reaped))
	}
	return nil
}

func (c *Core) republishOrphanRetries(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-orphanRetryGrace)

	retrying, err := c.jobs.ListJobs(ctx, models.StatusRetrying, "", 500, 0)
	if err != nil {
		return fmt.Errorf("failed to list retrying jobs: %w", err)
	}

	republished := 0
	for i := range retrying {
		job := retrying[i]
		// ScheduledFor holds the job's own next_retry_at while status is
		// retrying (set by RC's MarkRetrying); a job well past it is
		// either about to fire from the delay ring or has been orphaned.
		if job.ScheduledFor == nil || job.ScheduledFor.After(cutoff) {
			continue
		}
		if err := c.pub.Publish(ctx, &job); err != nil {
			c.log.Error("failed to republish orphaned retrying job", zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		republished++
	}
	if republished > 0 {
		c.log.Info("republished orphaned retrying jobs", zap.Int("count", republished))
	}
	return nil
}
