// Package metrics exposes Prometheus collectors for queue and probe activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "observatory_"

var jobsSubmittedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_submitted_total",
		Help: "Number of jobs accepted into the queue",
	},
	[]string{"test_suite"},
)

var jobsRejectedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_rejected_total",
		Help: "Number of submissions rejected before queueing",
	},
	[]string{"reason"},
)

var jobsFinishedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "jobs_finished_total",
		Help: "Number of jobs that reached a terminal state",
	},
	[]string{"test_suite", "status"},
)

var runsPassedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "runs_verdict_total",
		Help: "Number of finished runs by verdict",
	},
	[]string{"test_suite", "verdict"},
)

var jobsRunningGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "jobs_running",
		Help: "Number of jobs currently running",
	},
)

var jobsQueuedGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "jobs_queued",
		Help: "Number of jobs waiting for a concurrency permit",
	},
)

var probeAttemptsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "probe_attempts_total",
		Help: "Number of probe requests by outcome",
	},
	[]string{"test_suite", "outcome"},
)

var probeLatencyHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "probe_latency_seconds",
		Help:    "Latency of probe requests in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"test_suite"},
)

var notificationErrorsCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "notification_errors_total",
		Help: "Number of notifications that could not be delivered",
	},
)

// Rejection reasons.
const (
	ReasonDuplicate    = "duplicate"
	ReasonInvalid      = "invalid"
	ReasonShuttingDown = "shutting_down"
)

func RecordSubmitted(suite string) {
	jobsSubmittedCounter.WithLabelValues(suite).Inc()
}

func RecordRejected(reason string) {
	jobsRejectedCounter.WithLabelValues(reason).Inc()
}

// RecordFinished counts a terminal job. status is "completed" or "failed".
func RecordFinished(suite, status string) {
	jobsFinishedCounter.WithLabelValues(suite, status).Inc()
}

func RecordVerdict(suite string, passed bool) {
	verdict := "failed"
	if passed {
		verdict = "passed"
	}
	runsPassedCounter.WithLabelValues(suite, verdict).Inc()
}

// SetOccupancy publishes the current queue occupancy.
func SetOccupancy(running, queued int) {
	jobsRunningGauge.Set(float64(running))
	jobsQueuedGauge.Set(float64(queued))
}

// RecordAttempt counts one probe request. Models are not a label: they come
// from callers and would make the series count unbounded.
func RecordAttempt(suite string, success bool, latency time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	probeAttemptsCounter.WithLabelValues(suite, outcome).Inc()
	probeLatencyHist.WithLabelValues(suite).Observe(latency.Seconds())
}

func RecordNotificationError() {
	notificationErrorsCounter.Inc()
}
