package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_jobs_total",
			Help: "Total number of jobs by decider and terminal status",
		},
		[]string{"decider", "status"},
	)

	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brainbox_jobs_submitted_total",
			Help: "Total number of jobs admitted by the runner",
		},
	)

	JobsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brainbox_jobs_pending",
			Help: "Number of received jobs waiting for an instance",
		},
	)

	JobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brainbox_job_duration_seconds",
			Help:    "Time from job receipt to its terminal status in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"decider"},
	)

	QueueLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brainbox_job_queue_seconds",
			Help:    "Time from job receipt to assignment in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"decider"},
	)

	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brainbox_instances",
			Help: "Number of decider instances by decider and state",
		},
		[]string{"decider", "state"},
	)

	WarmupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_warmups_total",
			Help: "Total number of instance warm-ups by decider and result",
		},
		[]string{"decider", "result"},
	)

	WarmupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brainbox_warmup_duration_seconds",
			Help:    "Time taken to install, start and warm an instance in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"decider"},
	)

	CooldownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_cooldowns_total",
			Help: "Total number of instance cool-downs by decider",
		},
		[]string{"decider"},
	)

	DecidersInstalled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brainbox_decider_installation",
			Help: "Installation status of each decider (1 for the current status)",
		},
		[]string{"decider", "status"},
	)

	// Bus metrics
	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_bus_messages_total",
			Help: "Total number of bus messages appended by type",
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brainbox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brainbox_api_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Runner metrics
	SchedulingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brainbox_scheduling_cycle_seconds",
			Help:    "Time taken by one planning cycle in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	PlannerActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_planner_actions_total",
			Help: "Total number of planner actions applied by kind",
		},
		[]string{"kind"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brainbox_reconciliation_duration_seconds",
			Help:    "Time taken by one health sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UnhealthyInstances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brainbox_unhealthy_instances_total",
			Help: "Total number of instances found unhealthy by the reconciler",
		},
		[]string{"decider"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsPending)
	prometheus.MustRegister(JobLatency)
	prometheus.MustRegister(QueueLatency)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(WarmupsTotal)
	prometheus.MustRegister(WarmupDuration)
	prometheus.MustRegister(CooldownsTotal)
	prometheus.MustRegister(DecidersInstalled)
	prometheus.MustRegister(BusMessagesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APIRateLimited)
	prometheus.MustRegister(SchedulingCycleDuration)
	prometheus.MustRegister(PlannerActions)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(UnhealthyInstances)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
