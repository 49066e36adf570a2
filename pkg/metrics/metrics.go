package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mission metrics
	MissionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_missions_total",
			Help: "Total number of missions by state",
		},
		[]string{"state"},
	)

	MissionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_missions_completed_total",
			Help: "Total number of completed missions by outcome",
		},
		[]string{"outcome"},
	)

	// Task metrics
	TasksDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to the worker swarm",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_tasks_failed_total",
			Help: "Total number of tasks that ended in failure",
		},
	)

	TasksRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_tasks_retried_total",
			Help: "Total number of task retry attempts",
		},
	)

	// Worker pool metrics
	WorkersLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_workers_live",
			Help: "Number of live worker executions by kind",
		},
		[]string{"kind"},
	)

	WorkerPoolMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_worker_pool_max",
			Help: "Configured maximum concurrent worker executions",
		},
	)

	CapacityExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_capacity_exhausted_total",
			Help: "Times a task had to queue on a saturated worker pool",
		},
	)

	// Commit engine metrics
	CommitQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_commit_queue_depth",
			Help: "Number of tasks awaiting operator confirmation",
		},
	)

	CommitExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_commit_expired_total",
			Help: "Total number of confirmation windows that lapsed",
		},
	)

	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_approvals_total",
			Help: "Total number of operator approval verdicts by outcome",
		},
		[]string{"outcome"},
	)

	// Ledger metrics
	LedgerAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_ledger_appends_total",
			Help: "Total number of ledger entries appended",
		},
	)

	LedgerAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aegis_ledger_append_duration_seconds",
			Help:    "Ledger append latency including fsync in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Capability metrics
	CapabilityStage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_capability_stage",
			Help: "Current evolution stage as an ordinal (0 = dormant)",
		},
	)

	MissionSuccesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_mission_successes_total",
			Help: "Lifetime count of successful missions",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MissionsTotal)
	prometheus.MustRegister(MissionsCompleted)
	prometheus.MustRegister(TasksDispatched)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksRetried)
	prometheus.MustRegister(WorkersLive)
	prometheus.MustRegister(WorkerPoolMax)
	prometheus.MustRegister(CapacityExhausted)
	prometheus.MustRegister(CommitQueueDepth)
	prometheus.MustRegister(CommitExpired)
	prometheus.MustRegister(ApprovalsTotal)
	prometheus.MustRegister(LedgerAppends)
	prometheus.MustRegister(LedgerAppendDuration)
	prometheus.MustRegister(CapabilityStage)
	prometheus.MustRegister(MissionSuccesses)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into the given observer
func (t *Timer) ObserveDuration(obs prometheus.Observer) {
	obs.Observe(t.Duration().Seconds())
}
