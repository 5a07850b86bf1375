package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the ledger service.
type Metrics struct {
	// Ledger writer metrics
	Appends        *prometheus.CounterVec
	AppendFailures *prometheus.CounterVec
	DedupeHits     *prometheus.CounterVec
	AppendDuration prometheus.Histogram

	// Chain verifier metrics
	VerifyRuns     *prometheus.CounterVec
	VerifyFailures prometheus.Counter

	// Transport metrics
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Appends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_appends_total",
			Help: "Total number of audit events appended, by stream type",
		}, []string{"stream_type"}),
		AppendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_append_failures_total",
			Help: "Total number of failed append attempts, by stream type",
		}, []string{"stream_type"}),
		DedupeHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_dedupe_hits_total",
			Help: "Total number of appends answered by idempotent replay, by stream type",
		}, []string{"stream_type"}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_append_duration_seconds",
			Help:    "Time taken to append one audit event, lock to commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		VerifyRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_verify_runs_total",
			Help: "Total number of stream chain verifications, by outcome",
		}, []string{"outcome"}),
		VerifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_verify_failures_total",
			Help: "Total number of streams that failed chain verification",
		}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// RecordAppend increments the append counter for a stream type.
func (m *Metrics) RecordAppend(streamType string) {
	m.Appends.WithLabelValues(streamType).Inc()
}

// RecordAppendFailure increments the append failure counter for a stream type.
func (m *Metrics) RecordAppendFailure(streamType string) {
	m.AppendFailures.WithLabelValues(streamType).Inc()
}

// RecordDedupeHit increments the idempotent replay counter for a stream type.
func (m *Metrics) RecordDedupeHit(streamType string) {
	m.DedupeHits.WithLabelValues(streamType).Inc()
}

// ObserveAppendDuration records one append's latency.
func (m *Metrics) ObserveAppendDuration(d time.Duration) {
	m.AppendDuration.Observe(d.Seconds())
}

// RecordVerifyRun records one chain verification and its outcome.
func (m *Metrics) RecordVerifyRun(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
		m.VerifyFailures.Inc()
	}
	m.VerifyRuns.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records one HTTP request's latency.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, d time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
