// Package metrics exposes Prometheus instruments for the analysis worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analyzer"

// Job outcomes as recorded on the processed counter.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeErrored   = "errored"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	queueLag      prometheus.Histogram
	requeues      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	breakerOpen   *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_processed_total",
			Help:        "Analysis jobs processed by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "job_duration_seconds",
			Help:        "Analysis job duration in seconds by outcome.",
			Buckets:     []float64{1, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_in_flight",
			Help:        "Number of analysis jobs currently running.",
			ConstLabels: constLabels,
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Pipeline stage duration in seconds by stage and result.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		},
		[]string{"stage", "result"},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "queue_lag_seconds",
			Help:        "Delay between job enqueue and processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)
	requeues := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "jobs_requeued_total",
			Help:        "Jobs put back on the stream or moved to the dead letter stream.",
			ConstLabels: constLabels,
		},
		[]string{"destination"},
	)

	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "dependency",
			Name:        "retries_total",
			Help:        "Retried calls to a dependency by stage.",
			ConstLabels: constLabels,
		},
		[]string{"dependency", "stage"},
	)
	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "dependency",
			Name:        "breaker_open",
			Help:        "1 while the circuit breaker of a dependency is open.",
			ConstLabels: constLabels,
		},
		[]string{"dependency"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, stageDuration, queueLag, requeues, retries, breakerOpen)

	return &WorkerMetrics{
		registry:      registry,
		jobsTotal:     jobsTotal,
		jobDuration:   jobDuration,
		jobsInFlight:  jobsInFlight,
		stageDuration: stageDuration,
		queueLag:      queueLag,
		requeues:      requeues,
		retries:       retries,
		breakerOpen:   breakerOpen,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(outcome string, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveStage(stage string, ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

// ObserveRequeue records where a failed job went: "stream" or "dlq".
func (m *WorkerMetrics) ObserveRequeue(destination string) {
	m.requeues.WithLabelValues(destination).Inc()
}

func (m *WorkerMetrics) ObserveRetry(dependency, stage string) {
	m.retries.WithLabelValues(dependency, stage).Inc()
}

func (m *WorkerMetrics) ObserveBreaker(dependency string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.breakerOpen.WithLabelValues(dependency).Set(v)
}
