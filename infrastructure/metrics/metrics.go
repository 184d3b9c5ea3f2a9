// Package metrics provides Prometheus metrics collection
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Heartbeat producer metrics
	PingAttempts *prometheus.CounterVec
	PingSuccess  *prometheus.CounterVec
	PingFailure  *prometheus.CounterVec
	PingLatency  *prometheus.HistogramVec

	// Heartbeat consumer metrics
	BatchSize    prometheus.Histogram
	BatchLatency prometheus.Histogram
	IngestCount  prometheus.Counter
	DLQRouted    *prometheus.CounterVec

	// Approval metrics
	ApprovalTransitions *prometheus.CounterVec
	DecisionConflicts   prometheus.Counter

	// Resilience metrics
	BreakerState        *prometheus.GaugeVec
	RetryBudgetRejected *prometheus.CounterVec
	BulkheadInFlight    *prometheus.GaugeVec

	// Cache metrics
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CachePromotions prometheus.Counter
}

// New creates a new Metrics instance registered on the default registerer
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),

		PingAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_attempt_total",
				Help: "Heartbeat send attempts",
			},
			[]string{"protocol"},
		),
		PingSuccess: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_success_total",
				Help: "Heartbeat sends that succeeded",
			},
			[]string{"protocol"},
		),
		PingFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_failure_total",
				Help: "Heartbeat sends that failed",
			},
			[]string{"protocol"},
		),
		PingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:       "ping_latency_seconds",
				Help:       "Heartbeat send latency in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"protocol"},
		),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heartbeat_batch_size",
			Help:    "Records per consumed heartbeat batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		BatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heartbeat_batch_latency_seconds",
			Help:    "Processing latency per heartbeat batch",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		IngestCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heartbeat_ingest_total",
			Help: "Heartbeat records ingested into the projection",
		}),
		DLQRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartbeat_dlq_routed_total",
				Help: "Records routed to the dead-letter topic",
			},
			[]string{"topic"},
		),

		ApprovalTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_transitions_total",
				Help: "Approval request terminal transitions",
			},
			[]string{"status"},
		),
		DecisionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approval_decision_conflicts_total",
			Help: "Duplicate or conflicting decision attempts",
		}),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		RetryBudgetRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retry_budget_rejected_total",
				Help: "Retries denied by the retry budget",
			},
			[]string{"operation"},
		),
		BulkheadInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bulkhead_in_flight",
				Help: "Calls currently admitted by the bulkhead",
			},
			[]string{"bulkhead"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Cache misses by tier",
			},
			[]string{"tier"},
		),
		CachePromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_promotions_total",
			Help: "L2 hits promoted into L1",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.PingAttempts,
			m.PingSuccess,
			m.PingFailure,
			m.PingLatency,
			m.BatchSize,
			m.BatchLatency,
			m.IngestCount,
			m.DLQRouted,
			m.ApprovalTransitions,
			m.DecisionConflicts,
			m.BreakerState,
			m.RetryBudgetRejected,
			m.BulkheadInFlight,
			m.CacheHits,
			m.CacheMisses,
			m.CachePromotions,
		)
	}

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordPing records a heartbeat send attempt and its outcome
func (m *Metrics) RecordPing(protocol string, duration time.Duration, err error) {
	m.PingAttempts.WithLabelValues(protocol).Inc()
	m.PingLatency.WithLabelValues(protocol).Observe(duration.Seconds())
	if err != nil {
		m.PingFailure.WithLabelValues(protocol).Inc()
		return
	}
	m.PingSuccess.WithLabelValues(protocol).Inc()
}

// RecordBatch records a consumed heartbeat batch
func (m *Metrics) RecordBatch(size int, duration time.Duration) {
	m.BatchSize.Observe(float64(size))
	m.BatchLatency.Observe(duration.Seconds())
	m.IngestCount.Add(float64(size))
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
