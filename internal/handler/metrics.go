package handler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the worker's Prometheus collectors. It implements
// job.Observer so the state machine can report invocation results without
// importing this package.
type Metrics struct {
	activeJobs         prometheus.Gauge
	suspensionsTotal   prometheus.Counter
	outcomesTotal      *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	retriesTotal       *prometheus.CounterVec
	invocationDuration prometheus.Histogram
}

// NewMetrics registers the worker collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reelay_active_jobs",
			Help: "Number of requests currently holding a concurrency slot.",
		}),
		suspensionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelay_suspensions_total",
			Help: "Number of activations suspended because no slot was free within the admission wait.",
		}),
		outcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelay_job_outcomes_total",
			Help: "Terminal job outcomes by status and error kind.",
		}, []string{"status", "error_kind"}),
		invocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelay_encoder_invocations_total",
			Help: "Encoder invocations by classification.",
		}, []string{"class"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelay_step_retries_total",
			Help: "Retries scheduled after recoverable step failures, by step.",
		}, []string{"step"}),
		invocationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reelay_encoder_invocation_seconds",
			Help:    "Wall-clock duration of encoder invocations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

// InvocationFinished satisfies job.Observer.
func (m *Metrics) InvocationFinished(class string, duration time.Duration) {
	m.invocationsTotal.WithLabelValues(class).Inc()
	m.invocationDuration.Observe(duration.Seconds())
}

// RetryScheduled satisfies job.Observer.
func (m *Metrics) RetryScheduled(stepName string) {
	m.retriesTotal.WithLabelValues(stepName).Inc()
}

func (m *Metrics) jobAdmitted() {
	m.activeJobs.Inc()
}

func (m *Metrics) jobReleased() {
	m.activeJobs.Dec()
}

func (m *Metrics) suspended() {
	m.suspensionsTotal.Inc()
}

func (m *Metrics) outcomeRecorded(status, errorKind string) {
	m.outcomesTotal.WithLabelValues(status, errorKind).Inc()
}
