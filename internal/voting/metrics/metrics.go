package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Iterations tracks loop iterations by the action the remote response mapped to
	Iterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juror_loop_iterations_total",
			Help: "Total number of control loop iterations",
		},
		[]string{"action"},
	)

	// VotesSubmitted tracks resolved cases by how the vote was chosen
	VotesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juror_votes_submitted_total",
			Help: "Total number of votes submitted",
		},
		[]string{"source", "reason"},
	)

	// BudgetSpent tracks error budget decrements by failure kind
	BudgetSpent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juror_error_budget_spent_total",
			Help: "Total number of error budget decrements",
		},
		[]string{"kind"},
	)

	// BudgetRemaining tracks the error budget left for an account's current run
	BudgetRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "juror_error_budget_remaining",
			Help: "Error budget remaining in the current run",
		},
		[]string{"account"},
	)

	// RunsFinished tracks finished runs by outcome
	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juror_runs_finished_total",
			Help: "Total number of finished runs",
		},
		[]string{"outcome"},
	)

	// ActiveRuns tracks runs currently in progress
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "juror_active_runs",
			Help: "Number of runs in progress",
		},
	)

	// RemoteCalls tracks calls to the remote case service
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juror_remote_calls_total",
			Help: "Total number of remote case service calls",
		},
		[]string{"op", "result"},
	)

	// RemoteLatency tracks remote call latency
	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "juror_remote_latency_seconds",
			Help:    "Remote case service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Notifications tracks completion notifications
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "juror_notifications_total",
			Help: "Total number of completion notifications",
		},
		[]string{"result"},
	)
)

// DBPoolUsage tracks the percentage of open history database connections
var DBPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "juror_db_pool_usage_percent",
		Help: "History database connection pool usage percentage",
	},
)
