// Package metrics exposes gateway counters and gauges in Prometheus format.
//
// A Metrics value is registered against an explicit registry so tests can
// build as many as they like; the binary serves it on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogic_gateway"

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	HandshakesTotal   *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	AuthzDenialsTotal *prometheus.CounterVec
	RateLimitedTotal  *prometheus.CounterVec
	PairingTotal      *prometheus.CounterVec
	ActiveConnections prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with registry.
// Registering twice against the same registry panics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshakes_total",
				Help:      "Connection handshakes by outcome, auth mode and error code",
			},
			[]string{"outcome", "auth_mode", "code"},
		),
		HandshakeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handshake_duration_seconds",
				Help:      "Time from upgrade to hello-ok or rejection",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		AuthzDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authz_denials_total",
				Help:      "Method calls denied by the authorization gate",
			},
			[]string{"method", "role"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Authentication attempts refused by the failure limiter",
			},
			[]string{"scope"},
		),
		PairingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairing_total",
				Help:      "Device pairing events by outcome",
			},
			[]string{"outcome"},
		),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connected gateway sessions",
		}),
		gatherer: registry,
	}

	registry.MustRegister(
		m.HandshakesTotal,
		m.HandshakeDuration,
		m.AuthzDenialsTotal,
		m.RateLimitedTotal,
		m.PairingTotal,
		m.ActiveConnections,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveHandshake records one finished handshake. code is empty on success.
func (m *Metrics) ObserveHandshake(outcome, authMode, code string, elapsed time.Duration) {
	m.HandshakesTotal.WithLabelValues(outcome, authMode, code).Inc()
	m.HandshakeDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveDenial counts an authorization denial.
func (m *Metrics) ObserveDenial(method, role string) {
	m.AuthzDenialsTotal.WithLabelValues(method, role).Inc()
}

// ObserveRateLimited counts a limiter block.
func (m *Metrics) ObserveRateLimited(scope string) {
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// ObservePairing counts a pairing event (requested, auto-approved, ...).
func (m *Metrics) ObservePairing(outcome string) {
	m.PairingTotal.WithLabelValues(outcome).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }
