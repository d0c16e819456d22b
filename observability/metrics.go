package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// RPC returns the lazily-initialised registry used to record HTTP API
// activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total HTTP API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total HTTP API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// EngineMetrics tracks transaction execution.
type EngineMetrics struct {
	transactions *prometheus.CounterVec
	costUnits    *prometheus.HistogramVec
	duration     prometheus.Histogram
	stateUpdates prometheus.Counter
	feeCollected prometheus.Counter
	failures     *prometheus.CounterVec
	events       *prometheus.CounterVec
}

// Engine returns the singleton metrics registry for the transaction executor.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "transactions_total",
				Help:      "Executed transactions segmented by status and outcome.",
			}, []string{"status", "outcome"}),
			costUnits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "cost_units",
				Help:      "Cost units consumed per transaction segmented by phase.",
				Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
			}, []string{"phase"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock time spent executing a transaction.",
				Buckets:   prometheus.DefBuckets,
			}),
			stateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "state_updates_total",
				Help:      "Substate updates committed to the store.",
			}),
			feeCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "fee_collected_total",
				Help:      "Native token collected as transaction fees.",
			}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Failed transactions segmented by error class.",
			}, []string{"class"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Committed application events segmented by emitter entity and event type.",
			}, []string{"emitter", "type"}),
		}
		prometheus.MustRegister(
			engineRegistry.transactions,
			engineRegistry.costUnits,
			engineRegistry.duration,
			engineRegistry.stateUpdates,
			engineRegistry.feeCollected,
			engineRegistry.failures,
			engineRegistry.events,
		)
	})
	return engineRegistry
}

// TransactionSample summarises one execution for the engine metrics.
type TransactionSample struct {
	Status       string
	Outcome      string
	Execution    uint64
	Finalization uint64
	StateUpdates int
	FeeCollected float64
	Elapsed      time.Duration
}

// ObserveTransaction records a finished execution.
func (m *EngineMetrics) ObserveTransaction(s TransactionSample) {
	if m == nil {
		return
	}
	status := strings.TrimSpace(s.Status)
	if status == "" {
		status = "unknown"
	}
	outcome := strings.TrimSpace(s.Outcome)
	if outcome == "" {
		outcome = "none"
	}
	m.transactions.WithLabelValues(status, outcome).Inc()
	m.costUnits.WithLabelValues("execution").Observe(float64(s.Execution))
	m.costUnits.WithLabelValues("finalization").Observe(float64(s.Finalization))
	m.duration.Observe(s.Elapsed.Seconds())
	if s.StateUpdates > 0 {
		m.stateUpdates.Add(float64(s.StateUpdates))
	}
	if s.FeeCollected > 0 {
		m.feeCollected.Add(s.FeeCollected)
	}
}

// RecordFailure increments the failure counter for an error class such as
// "cost_limit" or "panic".
func (m *EngineMetrics) RecordFailure(class string) {
	if m == nil {
		return
	}
	if class = strings.TrimSpace(class); class == "" {
		class = "unspecified"
	}
	m.failures.WithLabelValues(class).Inc()
}

// ObserveEvent counts one committed event. emitter is the entity type of the
// emitting node; eventType is lower-cased.
func (m *EngineMetrics) ObserveEvent(emitter, eventType string) {
	if m == nil {
		return
	}
	if emitter = strings.TrimSpace(emitter); emitter == "" {
		emitter = "unknown"
	}
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(emitter, eventType).Inc()
}
