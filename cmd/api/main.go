package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/api"
	"github.com/arkflow/jobqueue/pkg/auth"
	"github.com/arkflow/jobqueue/pkg/config"
	"github.com/arkflow/jobqueue/pkg/coordination/etcd"
	"github.com/arkflow/jobqueue/pkg/handler"
	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/obslog"
	"github.com/arkflow/jobqueue/pkg/scheduler"
	"github.com/arkflow/jobqueue/pkg/stats"
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
		Service:    cfg.ServiceName + "-api",
	})
	if err != nil {
		panic(err)
	}
	defer obslog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingCfg := tracing.DefaultConfig(cfg.ServiceName + "-api")
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

	registry := handler.NewRegistry()
	registry.Register("shell", handler.NewShellHandler(30*time.Second))

	lm := lifecycle.NewManager(store, cache, queue)
	sa := stats.NewAggregator(store, store, cache)
	schedulerElection := etcdCoord.NewElection("jobqueue-scheduler")
	schedules := scheduler.NewRegistrar(store)

	var jwtSvc *auth.JWTService
	var apiKeys auth.APIKeyStore
	if cfg.Auth.Enabled {
		jwtSvc, err = auth.NewJWTService(auth.JWTConfig{
			SecretKey:     cfg.Auth.JWTSecret,
			Issuer:        cfg.Auth.JWTIssuer,
			TokenExpiry:   time.Hour,
			RefreshExpiry: 24 * time.Hour,
		})
		if err != nil {
			log.Fatal("failed to initialize JWT service", zap.Error(err))
		}
		authRedis := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer authRedis.Close()
		apiKeys = auth.NewRedisAPIKeyStore(authRedis)
	}

	server := api.NewServer(api.Config{
		Port:              cfg.API.Port,
		Lifecycle:         lm,
		Stats:             sa,
		Coordinator:       etcdCoord,
		SchedulerElection: schedulerElection,
		Schedules:         schedules,
		Log:               log,
		AllowedJobTypes:   registry.Types(),
		JWTService:        jwtSvc,
		APIKeyStore:       apiKeys,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("api server error", zap.Error(err))
		}
	}()
	log.Info("api server started", zap.String("port", cfg.API.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("api shutdown error", zap.Error(err))
	}

	cancel()
	log.Info("api shutdown complete")
}
