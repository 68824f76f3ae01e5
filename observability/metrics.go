package observability

import (
	"strconv"
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

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	riskMetricsOnce sync.Once
	riskRegistry    *RiskMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record API
// activity per module.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route, and outcome.",
			}, []string{"module", "route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route, and status code.",
			}, []string{"module", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "flux",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "api",
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

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, route, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(module, route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
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

// RiskMetrics tracks engine outcomes: vault operations, liquidations, health
// factors and compliance decisions.
type RiskMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	seized       *prometheus.CounterVec
	healthFactor *prometheus.GaugeVec
	riskFactor   *prometheus.GaugeVec
	rejections   *prometheus.CounterVec
	whales       prometheus.Counter
	events       *prometheus.CounterVec
}

// Risk returns the singleton risk metrics registry.
func Risk() *RiskMetrics {
	riskMetricsOnce.Do(func() {
		riskRegistry = &RiskMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "vault",
				Name:      "liquidations_total",
				Help:      "Completed liquidations segmented by collateral asset.",
			}, []string{"asset"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "vault",
				Name:      "collateral_seized_total",
				Help:      "Collateral units seized by liquidations.",
			}, []string{"asset"}),
			healthFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "flux",
				Subsystem: "vault",
				Name:      "health_factor_bps",
				Help:      "Most recently observed health factor per vault in basis points.",
			}, []string{"vault"}),
			riskFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "flux",
				Subsystem: "vault",
				Name:      "risk_factor_bps",
				Help:      "Current risk factor per vault in basis points.",
			}, []string{"vault"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "compliance",
				Name:      "rejections_total",
				Help:      "Compliance gate rejections segmented by reason.",
			}, []string{"reason"}),
			whales: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "compliance",
				Name:      "whale_transfers_total",
				Help:      "Transfers above the whale alert threshold.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flux",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			riskRegistry.operations,
			riskRegistry.liquidations,
			riskRegistry.seized,
			riskRegistry.healthFactor,
			riskRegistry.riskFactor,
			riskRegistry.rejections,
			riskRegistry.whales,
			riskRegistry.events,
		)
	})
	return riskRegistry
}

// RecordOperation counts a vault operation outcome.
func (m *RiskMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(normaliseLabel(operation), outcome).Inc()
}

// RecordLiquidation counts a liquidation and the collateral it seized.
func (m *RiskMetrics) RecordLiquidation(asset string, seized uint64) {
	if m == nil {
		return
	}
	label := strings.ToUpper(normaliseLabel(asset))
	m.liquidations.WithLabelValues(label).Inc()
	m.seized.WithLabelValues(label).Add(float64(seized))
}

// ObserveHealth records the latest health factor for a vault.
func (m *RiskMetrics) ObserveHealth(vault string, hf uint64) {
	if m == nil {
		return
	}
	m.healthFactor.WithLabelValues(vault).Set(float64(hf))
}

// ObserveRiskFactor records the current risk factor for a vault.
func (m *RiskMetrics) ObserveRiskFactor(vault string, rf uint64) {
	if m == nil {
		return
	}
	m.riskFactor.WithLabelValues(vault).Set(float64(rf))
}

// RecordRejection counts a compliance gate failure.
func (m *RiskMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normaliseLabel(reason)).Inc()
}

// RecordWhale counts a transfer above the whale threshold.
func (m *RiskMetrics) RecordWhale() {
	if m == nil {
		return
	}
	m.whales.Inc()
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
