package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkflow/jobqueue/pkg/api/middleware"
	"github.com/arkflow/jobqueue/pkg/auth"
	"github.com/arkflow/jobqueue/pkg/coordination"
	"github.com/arkflow/jobqueue/pkg/lifecycle"
	"github.com/arkflow/jobqueue/pkg/scheduler"
	"github.com/arkflow/jobqueue/pkg/stats"
)

// Server is the thin external HTTP adapter over LM and SA: it validates
// requests, delegates to those components, and renders JSON — it holds no
// job-lifecycle logic of its own.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	lifecycle         *lifecycle.Manager
	stats             *stats.Aggregator
	coordinator       coordination.Coordinator
	schedulerElection coordination.Election
	schedules         *scheduler.Registrar
	jobTypes          *middleware.Validator
	authEnabled       bool
}

// Config holds API server configuration. SchedulerElection is optional —
// when nil, /api/v1/cluster/leader reports not-implemented rather than
// guessing at a leader.
type Config struct {
	Port              string
	Lifecycle         *lifecycle.Manager
	Stats             *stats.Aggregator
	Coordinator       coordination.Coordinator
	SchedulerElection coordination.Election
	// Schedules is optional; when nil, the /schedules routes report
	// not-implemented rather than silently no-op-ing a submission.
	Schedules *scheduler.Registrar
	Log       *zap.Logger
	// AllowedJobTypes is the closed set job submissions are validated
	// against; empty accepts any type and leaves the check to the worker's
	// handler registry at dispatch time.
	AllowedJobTypes []string
	// JWTService / APIKeyStore, when non-nil, gate every /api/v1 route
	// behind the auth middleware. Both nil leaves the API open, matching
	// this server's framing as a thin external adapter with its own
	// (optional) concerns.
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(cfg.Log))
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))
	if cfg.JWTService != nil || cfg.APIKeyStore != nil {
		router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
			JWTService:  cfg.JWTService,
			APIKeyStore: cfg.APIKeyStore,
			SkipPaths:   []string{"/health", "/metrics"},
		}))
	}
	// Rate limiting runs after auth so an authenticated caller is bucketed
	// by user ID rather than source address.
	router.Use(middleware.RateLimitMiddleware())

	validatorCfg := middleware.DefaultValidatorConfig()
	validatorCfg.AllowedJobTypes = cfg.AllowedJobTypes

	s := &Server{
		router:            router,
		log:               cfg.Log,
		lifecycle:         cfg.Lifecycle,
		stats:             cfg.Stats,
		coordinator:       cfg.Coordinator,
		schedulerElection: cfg.SchedulerElection,
		schedules:         cfg.Schedules,
		jobTypes:          middleware.NewValidator(validatorCfg),
		authEnabled:       cfg.JWTService != nil || cfg.APIKeyStore != nil,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", s.createJob)
			jobs.GET("", s.listJobs)
			jobs.GET("/:id", s.getJob)
			cancel := jobs.Group("/:id/cancel")
			if s.authEnabled {
				cancel.Use(middleware.RequireRole(auth.RoleOperator))
			}
			cancel.POST("", s.cancelJob)
		}

		schedules := v1.Group("/schedules")
		if s.authEnabled {
			schedules.Use(middleware.RequireRole(auth.RoleOperator), middleware.RequireScope(auth.ScopeSchedulesWrite))
		}
		{
			schedules.POST("", s.createSchedule)
		}

		v1.GET("/stats", s.getStats)
		v1.GET("/cluster/leader", s.getLeader)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"metadata_store": s.lifecycle != nil,
		"coordinator":    s.coordinator != nil,
	}

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
