package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// NewScheduleInput is the caller-supplied shape of a new recurring template.
type NewScheduleInput struct {
	Name           string
	JobType        string
	CronExpression string
	Payload        models.Payload
	Priority       models.JobPriority
}

// Registrar validates and persists ScheduledJob templates without pulling
// in Core's full dispatch dependencies (LM, RC, election) — the API
// process that accepts schedule submissions has no business holding SCH
// leadership or dispatching jobs itself.
type Registrar struct {
	schedules storage.ScheduledJobStore
	parser    cron.Parser
}

func NewRegistrar(schedules storage.ScheduledJobStore) *Registrar {
	return &Registrar{
		schedules: schedules,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Create validates the cron expression, computes its first NextRunAt
// relative to now, and persists the template. It never dispatches a Job
// itself — PollAndDispatch picks the template up on its next tick like
// any other due schedule.
func (r *Registrar) Create(ctx context.Context, in NewScheduleInput) (*models.ScheduledJob, error) {
	schedule, err := r.parser.Parse(in.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}

	now := time.Now().UTC()
	sj := &models.ScheduledJob{
		ID:             uuid.New(),
		Name:           in.Name,
		JobType:        in.JobType,
		CronExpression: in.CronExpression,
		Payload:        in.Payload,
		Priority:       in.Priority,
		IsActive:       true,
		NextRunAt:      schedule.Next(now),
	}

	if err := r.schedules.CreateScheduledJob(ctx, sj); err != nil {
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return sj, nil
}
