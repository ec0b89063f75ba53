package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type hostMetrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	reverted *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	hostMetricsOnce sync.Once
	hostRegistry    *hostMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "storechain",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "storechain",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "storechain",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "storechain",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Host returns the registry tracking ledger call execution.
func Host() *hostMetrics {
	hostMetricsOnce.Do(func() {
		hostRegistry = &hostMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "storechain",
				Subsystem: "host",
				Name:      "calls_total",
				Help:      "External ledger calls segmented by contract kind, method and outcome.",
			}, []string{"contract", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "storechain",
				Subsystem: "host",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for external ledger calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"contract"}),
			reverted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "storechain",
				Subsystem: "host",
				Name:      "subcalls_reverted_total",
				Help:      "Nested calls whose effects were reverted without aborting the outer call.",
			}, []string{"contract"}),
		}
		prometheus.MustRegister(hostRegistry.calls, hostRegistry.latency, hostRegistry.reverted)
	})
	return hostRegistry
}

// ObserveCall records an external call.
func (m *hostMetrics) ObserveCall(contract, method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	contract = labelOrUnknown(contract)
	if method == "" {
		method = "transfer"
	}
	outcome := "committed"
	if err != nil {
		outcome = "aborted"
	}
	m.calls.WithLabelValues(contract, method, outcome).Inc()
	m.latency.WithLabelValues(contract).Observe(duration.Seconds())
}

// RecordRevert counts a nested call that was rolled back.
func (m *hostMetrics) RecordRevert(contract string) {
	if m == nil {
		return
	}
	m.reverted.WithLabelValues(labelOrUnknown(contract)).Inc()
}

func labelOrUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
