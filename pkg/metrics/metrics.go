// Package metrics exposes the Prometheus metrics for the job queue,
// registered eagerly with promauto against the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- Job Metrics ---

	JobsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of jobs by status",
		},
		[]string{"status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobqueue",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job handler execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"job_type", "status"},
	)

	// --- Scheduler Metrics ---

	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jobqueue",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled time and actual dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	JobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Subsystem: "scheduler",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of scheduled jobs dispatched",
		},
	)

	StaleJobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Subsystem: "scheduler",
			Name:      "stale_jobs_reaped_total",
			Help:      "Total number of stale running jobs reclaimed by the reconciler",
		},
	)

	// --- Worker Metrics ---

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Subsystem: "cluster",
			Name:      "active_workers",
			Help:      "Number of workers with a live heartbeat",
		},
	)

	WorkerJobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Subsystem: "worker",
			Name:      "jobs_running",
			Help:      "Number of currently running jobs on this worker",
		},
	)

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	// --- Retry / Dead Letter Metrics ---

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Subsystem: "retries",
			Name:      "total",
			Help:      "Total number of job retries",
		},
		[]string{"job_type"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobqueue",
			Subsystem: "retries",
			Name:      "dead_letters_total",
			Help:      "Total number of jobs quarantined to the dead-letter store",
		},
		[]string{"job_type"},
	)

	// CircuitBreakerState reports 0 (closed), 1 (open), or 2 (half-open)
	// per named breaker, for alerting on a tripped MB/MS/SC dependency.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "jobqueue",
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"name"},
	)
)

// RecordJob records metrics for a completed job handler invocation.
func RecordJob(jobType, status string, durationSeconds float64) {
	JobDuration.WithLabelValues(jobType, status).Observe(durationSeconds)
}

// RecordDispatch records a scheduled job being dispatched, with its
// scheduling lag.
func RecordDispatch(lagSeconds float64) {
	JobsDispatched.Inc()
	SchedulerLag.Observe(lagSeconds)
}
