// Package worker implements WR: the worker runtime that pulls deliveries
// off MB, invokes the registered handler, and drives LM/RC through the
// resulting success or failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/handler"
	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/metrics"
	"github.com/arkflow/jobqueue/pkg/models"
	"github.com/arkflow/jobqueue/pkg/resilience"
	"github.com/arkflow/jobqueue/pkg/retry"
	"github.com/arkflow/jobqueue/pkg/storage"
)

// Config controls worker concurrency and heartbeat cadence.
type Config struct {
	MaxConcurrency int // 0 means runtime.NumCPU(), capped by host memory / memPerSlotMB
	HeartbeatEvery time.Duration
	HeartbeatTTL   time.Duration
	HandlerTimeout time.Duration
}

// memPerSlotMB is the assumed worst-case memory footprint of one in-flight
// job, used to cap auto-detected concurrency on memory-constrained hosts.
const memPerSlotMB = 512

// Runtime is WR.
type Runtime struct {
	ID       string
	Hostname string

	concurrency int
	totalMemMB  uint64
	cfg         Config

	jobs     storage.JobStore
	consumer storage.Consumer
	cache    storage.StatusCache
	lm       *lifecycle.Manager
	rc       *retry.Controller
	registry *handler.Registry

	// mbBreaker trips after repeated MB failures so a down broker produces
	// a fast ErrCircuitOpen instead of every consumer goroutine hammering
	// it in a tight retry loop.
	mbBreaker *resilience.CircuitBreaker

	log *zap.Logger
}

func New(cfg Config, jobs storage.JobStore, consumer storage.Consumer, cache storage.StatusCache, lm *lifecycle.Manager, rc *retry.Controller, registry *handler.Registry, log *zap.Logger) *Runtime {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	totalMemMB := detectTotalMemoryMB(log)

	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
		// On a memory-starved host, more goroutines than the box can
		// actually feed just thrashes; cap auto-detected concurrency to
		// what memPerSlotMB-sized jobs can fit.
		if memSlots := int(totalMemMB / memPerSlotMB); memSlots > 0 && memSlots < concurrency {
			concurrency = memSlots
		}
	}
	if cfg.HeartbeatEvery == 0 {
		cfg.HeartbeatEvery = 20 * time.Second
	}
	if cfg.HeartbeatTTL == 0 {
		cfg.HeartbeatTTL = 60 * time.Second
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = 5 * time.Minute
	}

	return &Runtime{
		ID:          id,
		Hostname:    hostname,
		concurrency: concurrency,
		totalMemMB:  totalMemMB,
		cfg:         cfg,
		jobs:        jobs,
		consumer:    consumer,
		cache:       cache,
		lm:          lm,
		rc:          rc,
		registry:    registry,
		mbBreaker:   resilience.NewCircuitBreaker("mb-consume", resilience.DefaultCircuitBreakerConfig()),
		log:         log.With(zap.String("worker_id", id)),
	}
}

func detectTotalMemoryMB(log *zap.Logger) uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		log.Warn("failed to detect host memory, defaulting to 1GB", zap.Error(err))
		return 1024
	}
	return v.Total / 1024 / 1024
}

// Start ensures MB consumer groups exist, begins the heartbeat loop, then
// runs the priority-fair polling loop until ctx is cancelled, spending at
// most `concurrency` goroutines on in-flight deliveries at once. After ctx
// is cancelled it stops polling and returns once in-flight deliveries have
// finished.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.consumer.EnsureGroups(ctx); err != nil {
		return fmt.Errorf("failed to ensure consumer groups: %w", err)
	}

	r.log.Info("worker starting", zap.Int("concurrency", r.concurrency), zap.Uint64("total_mem_mb", r.totalMemMB))

	go r.heartbeatLoop(ctx)

	sem := make(chan struct{}, r.concurrency)
	for {
		select {
		case <-ctx.Done():
			// Taking every slot waits for in-flight deliveries to finish.
			for i := 0; i < r.concurrency; i++ {
				sem <- struct{}{}
			}
			return nil
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				r.consumeOne(ctx)
			}()
		}
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CircuitBreakerState.WithLabelValues(r.mbBreaker.Name()).Set(float64(r.mbBreaker.State()))
			if err := r.cache.SetHeartbeat(ctx, r.ID, r.cfg.HeartbeatTTL); err != nil {
				r.log.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			metrics.HeartbeatsSent.Inc()
		}
	}
}

func (r *Runtime) consumeOne(ctx context.Context) {
	var delivery *storage.Delivery
	err := r.mbBreaker.Execute(ctx, func() error {
		d, err := r.consumer.Consume(ctx, r.ID)
		delivery = d
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			r.log.Warn("mb circuit open, backing off")
		} else {
			r.log.Warn("consume failed", zap.Error(err))
		}
		time.Sleep(time.Second)
		return
	}
	if delivery == nil {
		return
	}

	// A delivery already taken runs to completion and ack even if
	// shutdown begins meanwhile.
	ctx = context.WithoutCancel(ctx)

	log := r.log.With(zap.String("job_id", delivery.JobID.String()), zap.String("job_type", delivery.JobType))

	job, err := r.jobs.GetJob(ctx, delivery.JobID)
	if err != nil {
		log.Error("failed to load job for delivery, acking to avoid poison loop", zap.Error(err))
		_ = r.consumer.Ack(ctx, delivery)
		return
	}
	if job.Status.Terminal() {
		// Already resolved by a previous (re-)delivery; ack and move on
		// rather than re-running a completed/cancelled job.
		_ = r.consumer.Ack(ctx, delivery)
		return
	}

	h, ok := r.registry.Lookup(delivery.JobType)
	if !ok {
		log.Error("no handler registered for job type")
		now := time.Now().UTC()
		poisonErr := fmt.Errorf("no handler registered for job type %q", delivery.JobType)
		attempt := &models.RetryAttempt{
			JobID:         job.ID,
			AttemptNumber: job.RetryCount + 1,
			StartedAt:     now,
			FailedAt:      now,
			ErrorMessage:  poisonErr.Error(),
		}
		// An unregistered job type can never succeed on retry, so it's
		// quarantined directly rather than routed through HandleFailure's
		// normal retry budget.
		_ = r.rc.Quarantine(ctx, job, attempt, poisonErr)
		_ = r.consumer.Ack(ctx, delivery)
		return
	}

	startedAt := time.Now().UTC()
	if err := r.lm.MarkRunning(ctx, job.ID, r.ID); err != nil {
		log.Warn("failed to mark job running, skipping this delivery", zap.Error(err))
		_ = r.consumer.Ack(ctx, delivery)
		return
	}

	metrics.WorkerJobsRunning.Inc()
	defer metrics.WorkerJobsRunning.Dec()

	if err := h.Validate(delivery.Payload); err != nil {
		r.fail(ctx, job, err, startedAt, log)
		metrics.RecordJob(delivery.JobType, string(models.StatusRetrying), time.Since(startedAt).Seconds())
		_ = r.consumer.Ack(ctx, delivery)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	_, execErr := h.Execute(runCtx, delivery.Payload)
	cancel()

	if execErr != nil {
		r.fail(ctx, job, execErr, startedAt, log)
		metrics.RecordJob(delivery.JobType, string(models.StatusRetrying), time.Since(startedAt).Seconds())
		_ = r.consumer.Ack(ctx, delivery)
		return
	}

	// Ack only after MS commit: a crash between MarkCompleted and Ack
	// yields a harmless re-delivery of an already-terminal job, never a
	// silently dropped one.
	if err := r.lm.MarkCompleted(ctx, job.ID); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
	}
	metrics.RecordJob(delivery.JobType, string(models.StatusCompleted), time.Since(startedAt).Seconds())
	if err := r.consumer.Ack(ctx, delivery); err != nil {
		log.Error("failed to ack delivery", zap.Error(err))
	}
}

func (r *Runtime) fail(ctx context.Context, job *models.Job, execErr error, startedAt time.Time, log *zap.Logger) {
	if err := r.rc.HandleFailure(ctx, job, execErr, startedAt, time.Now().UTC()); err != nil {
		log.Error("retry controller failed to handle failure", zap.Error(err))
	}
}
