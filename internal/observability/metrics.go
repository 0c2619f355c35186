// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider request outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRetry       = "retry"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeEmpty       = "empty"
	OutcomeExhausted   = "exhausted"
)

// Metrics holds all Prometheus metrics for the application.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Provider metrics
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ProviderFallbacks *prometheus.CounterVec

	// Ingestion metrics
	IngestionRuns  *prometheus.CounterVec
	TradesIngested *prometheus.CounterVec
	InvalidRecords *prometheus.CounterVec

	// Cache metrics
	CacheRequests *prometheus.CounterVec

	// Analysis metrics
	PatienceHistoryMisses *prometheus.CounterVec
	AnalysisDuration      *prometheus.HistogramVec
	ConvictionScores      *prometheus.HistogramVec
	SnapshotsStored       *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec

	// Health metrics
	LastSuccessfulAnalysis prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg registers on prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "conviction_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream provider requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Upstream provider request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		ProviderFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fallbacks_total",
			Help:      "Provider fallthroughs by chain, provider and reason",
		}, []string{"chain", "provider", "reason"}),

		IngestionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Ingestion runs by chain and outcome",
		}, []string{"chain", "outcome"}),
		TradesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_total",
			Help:      "Normalized trades returned by ingestion",
		}, []string{"chain"}),
		InvalidRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "invalid_records_total",
			Help:      "Provider records rejected by validation",
		}, []string{"chain"}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by backend and result",
		}, []string{"backend", "result"}),

		PatienceHistoryMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "patience",
			Name:      "history_misses_total",
			Help:      "Exited positions analyzed without any price history",
		}, []string{"chain"}),
		AnalysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "End-to-end wallet analysis duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"chain"}),
		ConvictionScores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "conviction_score",
			Help:      "Distribution of computed conviction scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"chain"}),
		SnapshotsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "snapshots_stored_total",
			Help:      "Conviction snapshots written by store",
		}, []string{"store"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),

		LastSuccessfulAnalysis: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_analysis_timestamp",
			Help:      "Unix timestamp of last successful wallet analysis",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordProviderRequest records one upstream attempt.
func (m *Metrics) RecordProviderRequest(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	if seconds > 0 {
		m.ProviderLatency.WithLabelValues(provider).Observe(seconds)
	}
}

// RecordFallback records a provider being skipped.
func (m *Metrics) RecordFallback(chain, provider, reason string) {
	if m == nil {
		return
	}
	m.ProviderFallbacks.WithLabelValues(chain, provider, reason).Inc()
}

// RecordIngestion records an ingestion run result.
func (m *Metrics) RecordIngestion(chain, outcome string, trades, invalid int) {
	if m == nil {
		return
	}
	m.IngestionRuns.WithLabelValues(chain, outcome).Inc()
	m.TradesIngested.WithLabelValues(chain).Add(float64(trades))
	m.InvalidRecords.WithLabelValues(chain).Add(float64(invalid))
}

// RecordCache records a cache lookup.
func (m *Metrics) RecordCache(backend string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(backend, result).Inc()
}

// RecordHistoryMiss records a zero-history patience analysis.
func (m *Metrics) RecordHistoryMiss(chain string) {
	if m == nil {
		return
	}
	m.PatienceHistoryMisses.WithLabelValues(chain).Inc()
}

// RecordAnalysis records a completed wallet analysis.
func (m *Metrics) RecordAnalysis(chain string, score, seconds float64, unixNow int64) {
	if m == nil {
		return
	}
	m.AnalysisDuration.WithLabelValues(chain).Observe(seconds)
	m.ConvictionScores.WithLabelValues(chain).Observe(score)
	m.LastSuccessfulAnalysis.Set(float64(unixNow))
}

// RecordSnapshot records a persisted snapshot.
func (m *Metrics) RecordSnapshot(store string) {
	if m == nil {
		return
	}
	m.SnapshotsStored.WithLabelValues(store).Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
