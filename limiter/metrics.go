/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import "github.com/prometheus/client_golang/prometheus"

const metricsLabelRoute = "route"

// MetricsCollector is an interface for collecting admission metrics.
type MetricsCollector interface {
	// IncAdmitted increments the counter of admitted requests for the route.
	IncAdmitted(routeID string)
	// IncRejected increments the counter of rejected requests for the route.
	IncRejected(routeID string)
	// SetKeysAmount sets the total number of tracked keys for the route.
	SetKeysAmount(routeID string, amount int)
	// AddEvictions increments the counter of swept-out keys for the route.
	AddEvictions(routeID string, n int)
}

type disabledMetrics struct{}

func (disabledMetrics) IncAdmitted(string)        {}
func (disabledMetrics) IncRejected(string)        {}
func (disabledMetrics) SetKeysAmount(string, int) {}
func (disabledMetrics) AddEvictions(string, int)  {}

// PrometheusMetrics implements MetricsCollector with Prometheus counters.
type PrometheusMetrics struct {
	AdmittedTotal *prometheus.CounterVec
	RejectedTotal *prometheus.CounterVec
	KeysAmount    *prometheus.GaugeVec
	EvictedTotal  *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	admittedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_admitted_total",
		Help:      "Number of requests admitted by the rate limiter.",
	}, []string{metricsLabelRoute})

	rejectedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejected_total",
		Help:      "Number of requests rejected due to rate limit exceeded.",
	}, []string{metricsLabelRoute})

	keysAmount := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_keys_amount",
		Help:      "Total number of keys tracked by the rate limiter.",
	}, []string{metricsLabelRoute})

	evictedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_evicted_keys_total",
		Help:      "Number of idle keys removed by the sweeper.",
	}, []string{metricsLabelRoute})

	return &PrometheusMetrics{
		AdmittedTotal: admittedTotal,
		RejectedTotal: rejectedTotal,
		KeysAmount:    keysAmount,
		EvictedTotal:  evictedTotal,
	}
}

// IncAdmitted increments the counter of admitted requests for the route.
func (pm *PrometheusMetrics) IncAdmitted(routeID string) {
	pm.AdmittedTotal.With(prometheus.Labels{metricsLabelRoute: routeID}).Inc()
}

// IncRejected increments the counter of rejected requests for the route.
func (pm *PrometheusMetrics) IncRejected(routeID string) {
	pm.RejectedTotal.With(prometheus.Labels{metricsLabelRoute: routeID}).Inc()
}

// SetKeysAmount sets the total number of tracked keys for the route.
func (pm *PrometheusMetrics) SetKeysAmount(routeID string, amount int) {
	pm.KeysAmount.With(prometheus.Labels{metricsLabelRoute: routeID}).Set(float64(amount))
}

// AddEvictions increments the counter of swept-out keys for the route.
func (pm *PrometheusMetrics) AddEvictions(routeID string, n int) {
	pm.EvictedTotal.With(prometheus.Labels{metricsLabelRoute: routeID}).Add(float64(n))
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.AdmittedTotal,
		pm.RejectedTotal,
		pm.KeysAmount,
		pm.EvictedTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.AdmittedTotal)
	prometheus.Unregister(pm.RejectedTotal)
	prometheus.Unregister(pm.KeysAmount)
	prometheus.Unregister(pm.EvictedTotal)
}
