package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassRuns tracks scheduler passes by kind and outcome.
	PassRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_pass_runs_total",
		Help: "Total scheduler passes by kind and outcome",
	}, []string{"kind", "outcome"}) // kind: interval, manual, startup; outcome: ok, skipped, error

	// PassDuration tracks the duration of a full scheduler pass.
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assign_pass_duration_seconds",
		Help:    "Duration of a full scheduler pass",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	// Decisions tracks per-booking assignment outcomes.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_decisions_total",
		Help: "Total assignment decisions by status and reason",
	}, []string{"status", "reason"}) // status: assigned, escalated, skipped, failed

	// AssignLatency tracks time from pool claim to decision commit.
	AssignLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assign_booking_latency_seconds",
		Help:    "Time to process one booking from claim to decision",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// PoolDepth tracks pool entries by status.
	PoolDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "assign_pool_depth",
		Help: "Current number of pool entries by status",
	}, []string{"status"})

	// PoolRecovered tracks entries returned from processing to waiting.
	PoolRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assign_pool_recovered_total",
		Help: "Pool entries recovered from a stale processing state",
	})

	// LockWait tracks how long workers waited for named locks.
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assign_lock_wait_seconds",
		Help:    "Time spent waiting for named locks",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 13), // 1ms to ~8s
	}, []string{"kind"}) // kind: booking, interpreter

	// LockTimeouts tracks lock acquisitions abandoned at the deadline.
	LockTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_lock_timeouts_total",
		Help: "Named lock acquisitions that timed out",
	}, []string{"kind"})

	// EnvThrottled tracks bookings deferred by the per-environment limiter.
	EnvThrottled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_env_throttled_total",
		Help: "Bookings deferred to the next pass by the per-environment rate limit",
	}, []string{"environment"})

	// CircuitState tracks the pass circuit breaker (0=closed, 1=half_open, 2=open).
	CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assign_circuit_state",
		Help: "Assignment circuit breaker state (0=closed, 1=half_open, 2=open)",
	})

	// LogWriteFailures tracks assignment log writes that fell back to stderr.
	LogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assign_log_write_failures_total",
		Help: "Assignment log writes that failed and were buffered in memory",
	})

	// PolicyCacheHits tracks effective-policy cache lookups.
	PolicyCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assign_policy_cache_lookups_total",
		Help: "Effective policy cache lookups by result",
	}, []string{"result"}) // hit, miss, error
)
