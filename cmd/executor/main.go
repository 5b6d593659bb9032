package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/config"
	"github.com/arkflow/jobqueue/pkg/handler"
	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/obslog"
	"github.com/arkflow/jobqueue/pkg/retry"
	"github.com/arkflow/jobqueue/pkg/storage/postgres"
	"github.com/arkflow/jobqueue/pkg/storage/rediscache"
	"github.com/arkflow/jobqueue/pkg/storage/redisqueue"
	"github.com/arkflow/jobqueue/pkg/tracing"
	"github.com/arkflow/jobqueue/pkg/worker"
)

func main() {
	cfg := config.Load()

	log, err := obslog.Init(obslog.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    cfg.ServiceName + "-executor",
	})
	if err != nil {
		panic(err)
	}
	defer obslog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingCfg := tracing.DefaultConfig(cfg.ServiceName + "-executor")
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

	registry := handler.NewRegistry()
	registry.Register("shell", handler.NewShellHandler(30*time.Second))

	lm := lifecycle.NewManager(store, cache, queue)
	policies := retry.NewPolicyTable()
	rc := retry.NewController(store, store, store, queue, policies)

	wr := worker.New(worker.Config{
		MaxConcurrency: cfg.Worker.MaxConcurrency,
		HeartbeatEvery: cfg.Worker.HeartbeatEvery,
		HeartbeatTTL:   cfg.Worker.HeartbeatTTL,
	}, store, queue, cache, lm, rc, registry, log)

	go queue.RunDelaySweeper(ctx, cfg.Worker.DelaySweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- wr.Start(ctx)
	}()
	log.Info("worker runtime started", zap.String("worker_id", wr.ID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runtimeExited := false
	select {
	case sig := <-sigChan:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		runtimeExited = true
		if err != nil {
			log.Error("worker runtime exited", zap.Error(err))
		}
	}

	// Cancel tells Start to stop pulling new deliveries; in-flight handler
	// invocations are given up to 30s to finish before the process exits
	// regardless.
	cancel()

	if !runtimeExited {
		select {
		case <-errCh:
		case <-time.After(30 * time.Second):
			log.Warn("in-flight jobs did not finish within grace period")
		}
	}

	log.Info("executor shutdown complete")
}
