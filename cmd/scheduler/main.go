package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/config"
	"github.com/arkflow/jobqueue/pkg/coordination/etcd"
	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/obslog"
	"github.com/arkflow/jobqueue/pkg/retry"
	"github.com/arkflow/jobqueue/pkg/scheduler"
	"github.com/arkflow/jobqueue/pkg/storage/postgres"
	"github.com/arkflow/jobqueue/pkg/storage/rediscache"
	"github.com/arkflow/jobqueue/pkg/storage/redisqueue"
	"github.com/arkflow/jobqueue/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := obslog.Init(obslog.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    cfg.ServiceName + "-scheduler",
	})
	if err != nil {
		panic(err)
	}
	defer obslog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingCfg := tracing.DefaultConfig(cfg.ServiceName + "-scheduler")
	tracingCfg.Endpoint = cfg.TracingURL
	tracingCfg.Enabled = cfg.TracingOn
	tracingCfg.SamplingRate = cfg.TracingRatio
	tracer, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	store, err := postgres.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatal("failed to connect to metadata store", zap.Error(err))
	}
	defer store.Close()
	log.Info("metadata store connected")

	queue, err := redisqueue.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("failed to connect to message broker", zap.Error(err))
	}
	defer queue.Close()
	log.Info("message broker connected")

	cache, err := rediscache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("failed to connect to status cache", zap.Error(err))
	}
	defer cache.Close()

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.Etcd.Endpoints, cfg.Etcd.LeaderElectionTTL)
	if err != nil {
		log.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	log.Info("etcd connected")

	ownID, err := os.Hostname()
	if err != nil || ownID == "" {
		ownID = "scheduler-" + uuid.New().String()
	}
	ownID = ownID + "-" + uuid.New().String()[:8]

	election := etcdCoord.NewElection("jobqueue-scheduler")

	log.Info("campaigning for scheduler leadership", zap.String("candidate", ownID))
	if err := election.Campaign(ctx, ownID); err != nil {
		log.Fatal("election campaign failed", zap.Error(err))
	}
	log.Info("acquired scheduler leadership", zap.String("leader", ownID))

	lm := lifecycle.NewManager(store, cache, queue)
	policies := retry.NewPolicyTable()
	rc := retry.NewController(store, store, store, queue, policies)

	core := scheduler.NewCore(scheduler.Config{
		PollInterval:      cfg.Scheduler.PollInterval,
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
	}, store, store, queue, lm, rc, ownID, log)

	go core.Run(ctx, election)
	log.Info("scheduler work loop started")

	go queue.RunDelaySweeper(ctx, cfg.Scheduler.DelaySweepInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resignCancel()
	if err := election.Resign(resignCtx); err != nil {
		log.Warn("failed to resign scheduler leadership", zap.Error(err))
	} else {
		log.Info("scheduler leadership resigned")
	}

	log.Info("scheduler shutdown complete")
}
