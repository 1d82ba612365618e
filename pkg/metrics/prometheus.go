package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	barsIngested  *prometheus.CounterVec
	barsRejected  *prometheus.CounterVec
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	eventsEmitted *prometheus.CounterVec
	suppressions  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	flushesTotal  *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		barsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_bars_ingested_total",
				Help: "Total number of bars accepted at the ingestion boundary",
			},
			[]string{"instrument", "timeframe"},
		),
		barsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_bars_rejected_total",
				Help: "Total number of bars rejected at the ingestion boundary",
			},
			[]string{"reason"},
		),
		cyclesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_cycles_total",
				Help: "Total number of confluence cycles by terminal status",
			},
			[]string{"instrument", "status"},
		),
		cycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "structpulse_cycle_duration_seconds",
				Help:    "Duration of completed confluence cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		eventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_events_emitted_total",
				Help: "Total number of enhanced events emitted",
			},
			[]string{"kind", "direction"},
		),
		suppressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_suppressions_total",
				Help: "Total number of events marked suppressed",
			},
			[]string{"instrument"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		flushesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "structpulse_context_flushes_total",
				Help: "Total number of context persistence flushes by result",
			},
			[]string{"result"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "structpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordBarIngested records an accepted bar.
func (r *Recorder) RecordBarIngested(instrument, timeframe string) {
	r.barsIngested.WithLabelValues(instrument, timeframe).Inc()
}

// RecordBarRejected records a rejected bar with its reject reason.
func (r *Recorder) RecordBarRejected(reason string) {
	r.barsRejected.WithLabelValues(reason).Inc()
}

// RecordCycle records a finished cycle with its terminal status.
func (r *Recorder) RecordCycle(instrument, status string) {
	r.cyclesTotal.WithLabelValues(instrument, status).Inc()
}

// RecordCycleDuration records how long a completed cycle took.
func (r *Recorder) RecordCycleDuration(seconds float64) {
	r.cycleDuration.Observe(seconds)
}

// RecordEventEmitted records an emitted enhanced event.
func (r *Recorder) RecordEventEmitted(kind, direction string) {
	r.eventsEmitted.WithLabelValues(kind, direction).Inc()
}

// RecordSuppression records a suppressed event.
func (r *Recorder) RecordSuppression(instrument string) {
	r.suppressions.WithLabelValues(instrument).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordFlush records a context flush attempt result.
func (r *Recorder) RecordFlush(result string) {
	r.flushesTotal.WithLabelValues(result).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
