// Package observability holds the Prometheus instrumentation shared by the
// adapter layer and the monitoring pipeline.
//
// All methods are safe on a nil *Metrics so components can run uninstrumented
// in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kybmon"

// Metrics holds every collector the pipeline reports to.
type Metrics struct {
	// SourceChecks counts adapter results by source and final status.
	SourceChecks *prometheus.CounterVec

	// SourceCache counts cache lookups. Labels: source, result (hit, miss, stale, error).
	SourceCache *prometheus.CounterVec

	// SourceRateLimited counts calls rejected by the per-source budget.
	SourceRateLimited *prometheus.CounterVec

	// SourceRetries counts retry attempts after transient failures.
	SourceRetries *prometheus.CounterVec

	// SourceCheckDuration measures connector latency, excluding cache hits.
	SourceCheckDuration *prometheus.HistogramVec

	// Cycles counts orchestrated cycles by outcome (ok, partial, failed, skipped).
	Cycles *prometheus.CounterVec

	// Diffs counts detected field changes.
	Diffs *prometheus.CounterVec

	// Alerts counts created alerts.
	Alerts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SourceChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "checks_total",
			Help:      "Adapter results by source and status",
		}, []string{"source", "status"}),
		SourceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "cache_total",
			Help:      "Adapter cache lookups by source and result",
		}, []string{"source", "result"}),
		SourceRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "rate_limited_total",
			Help:      "Calls rejected by the per-source request budget",
		}, []string{"source"}),
		SourceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "retries_total",
			Help:      "Retries after transient connector failures",
		}, []string{"source"}),
		SourceCheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "source",
			Name:      "check_duration_seconds",
			Help:      "Connector call latency including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles by outcome",
		}, []string{"outcome"}),
		Diffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "diffs_total",
			Help:      "Detected field changes by check type and risk impact",
		}, []string{"check_type", "impact"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Created alerts by category and severity",
		}, []string{"category", "severity"}),
	}
	if reg != nil {
		reg.MustRegister(m.SourceChecks, m.SourceCache, m.SourceRateLimited, m.SourceRetries,
			m.SourceCheckDuration, m.Cycles, m.Diffs, m.Alerts)
	}
	return m
}

func (m *Metrics) ObserveCheck(source, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.SourceChecks.WithLabelValues(source, status).Inc()
	if took > 0 {
		m.SourceCheckDuration.WithLabelValues(source).Observe(took.Seconds())
	}
}

func (m *Metrics) CacheResult(source, result string) {
	if m == nil {
		return
	}
	m.SourceCache.WithLabelValues(source, result).Inc()
}

func (m *Metrics) RateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

func (m *Metrics) Retry(source string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(source).Inc()
}

func (m *Metrics) Cycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DiffDetected(checkType, impact string) {
	if m == nil {
		return
	}
	m.Diffs.WithLabelValues(checkType, impact).Inc()
}

func (m *Metrics) AlertCreated(category, severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(category, severity).Inc()
}
