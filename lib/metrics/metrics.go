// Package metrics exposes prometheus counters for onion packet handling.
// Drop reasons are only ever reported locally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one node.
type Metrics struct {
	registry *prometheus.Registry

	packetsHandled  *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	packetsLimited  prometheus.Counter
	secretRotations prometheus.Counter
	fallbackUsed    prometheus.Counter
}

// New creates a Metrics registered in its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packetsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onion",
				Name:      "packets_handled_total",
				Help:      "Number of onion packets processed, by kind and action",
			},
			[]string{"kind", "action"},
		),
		packetsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onion",
				Name:      "packets_dropped_total",
				Help:      "Number of onion packets silently dropped, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		packetsLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "onion",
				Name:      "packets_rate_limited_total",
				Help:      "Number of datagrams dropped by the per-source rate limiter",
			},
		),
		secretRotations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "onion",
				Name:      "secret_rotations_total",
				Help:      "Number of return tag secret rotations",
			},
		),
		fallbackUsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "onion",
				Name:      "fallback_deliveries_total",
				Help:      "Number of deliveries handed to the fallback transport",
			},
		),
	}
	m.registry.MustRegister(
		m.packetsHandled,
		m.packetsDropped,
		m.packetsLimited,
		m.secretRotations,
		m.fallbackUsed,
	)
	return m
}

// PacketHandled counts a successfully processed packet.
func (m *Metrics) PacketHandled(kind, action string) {
	m.packetsHandled.WithLabelValues(kind, action).Inc()
}

// PacketDropped counts a dropped packet.
func (m *Metrics) PacketDropped(kind, reason string) {
	m.packetsDropped.WithLabelValues(kind, reason).Inc()
}

// PacketRateLimited counts a datagram refused by the rate limiter.
func (m *Metrics) PacketRateLimited() {
	m.packetsLimited.Inc()
}

// SecretRotated counts a return tag secret rotation.
func (m *Metrics) SecretRotated() {
	m.secretRotations.Inc()
}

// FallbackUsed counts a delivery through the fallback handler.
func (m *Metrics) FallbackUsed() {
	m.fallbackUsed.Inc()
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
