// Package scheduler implements SCH: leader-elected materialization of
// recurring ScheduledJob templates into dispatched Job rows.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/coordination"
	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/retry"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// Config controls polling cadence.
type Config struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	DispatchBatch     int
	DispatchFanout    int
}

// Core is SCH.
type Core struct {
	schedules storage.ScheduledJobStore
	jobs      storage.JobStore
	pub       storage.Publisher
	lm        *lifecycle.Manager
	rc        *retry.Controller
	parser    cron.Parser
	cfg       Config
	log       *zap.Logger

	ownID string
}

func NewCore(cfg Config, schedules storage.ScheduledJobStore, jobs storage.JobStore, pub storage.Publisher, lm *lifecycle.Manager, rc *retry.Controller, ownID string, log *zap.Logger) *Core {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.DispatchBatch == 0 {
		cfg.DispatchBatch = 500
	}
	if cfg.DispatchFanout == 0 {
		cfg.DispatchFanout = 20
	}

	return &Core{
		schedules: schedules,
		jobs:      jobs,
		pub:       pub,
		lm:        lm,
		rc:        rc,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cfg:       cfg,
		log:       log,
		ownID:     ownID,
	}
}

// Run blocks until ctx is cancelled, ticking a poll-and-dispatch loop and a
// slower reconcile loop. Both are gated on this process currently holding
// election leadership, so exactly one scheduler instance dispatches at a
// time.
func (c *Core) Run(ctx context.Context, election coordination.Election) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	reconcileTicker := time.NewTicker(c.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("scheduler shutting down")
			return

		case <-ticker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			for {
				count, err := c.PollAndDispatch(ctx)
				if err != nil {
					c.log.Error("poll-and-dispatch failed", zap.Error(err))
					break
				}
				if count == 0 || ctx.Err() != nil {
					break
				}
			}

		case <-reconcileTicker.C:
			if !c.isLeader(ctx, election) {
				continue
			}
			if err := c.Reconcile(ctx); err != nil {
				c.log.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}

func (c *Core) isLeader(ctx context.Context, election coordination.Election) bool {
	return coordination.IsLeader(ctx, election, c.ownID)
}

// PollAndDispatch finds ScheduledJob templates due as of now, materializes
// a Job row for each through LM, and advances NextRunAt strictly past now
// so a late tick fires exactly once per overdue schedule — never a
// backlog burst.
func (c *Core) PollAndDispatch(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := c.schedules.ListDue(ctx, now, c.cfg.DispatchBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	c.log.Info("dispatching due schedules", zap.Int("count", len(due)))

	sem := make(chan struct{}, c.cfg.DispatchFanout)
	var wg sync.WaitGroup
	for _, sj := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(sj models.ScheduledJob) {
			defer wg.Done()
			defer func() { <-sem }()
			c.dispatchOne(ctx, sj, now)
		}(sj)
	}
	wg.Wait()
	return len(due), nil
}

func (c *Core) dispatchOne(ctx context.Context, sj models.ScheduledJob, now time.Time) {
	log := c.log.With(zap.String("schedule", sj.Name))

	_, err := c.lm.Submit(ctx, lifecycle.SubmitInput{
		Type:     sj.JobType,
		Priority: sj.Priority,
		Payload:  sj.Payload,
	})
	if err != nil {
		log.Error("failed to submit scheduled job", zap.Error(err))
		return
	}

	c.advanceNextRun(ctx, &sj, now)
	log.Info("scheduled job dispatched")
}

func (c *Core) advanceNextRun(ctx context.Context, sj *models.ScheduledJob, now time.Time) {
	schedule, err := c.parser.Parse(sj.CronExpression)
	if err != nil {
		c.log.Error("invalid cron expression, leaving schedule stalled", zap.String("schedule", sj.Name), zap.Error(err))
		return
	}

	next := schedule.Next(now)
	for !next.After(now) {
		next = schedule.Next(next)
	}

	if err := c.schedules.UpdateNextRun(ctx, sj.ID, now, next); err != nil {
		c.log.Error("failed to advance next run", zap.String("schedule", sj.Name), zap.Error(err))
	}
}
