// Package metrics exposes relay activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/devrelay/devrelay/lib/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devrelay"

// Metrics implements relay.Recorder on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesRelayed     *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	upgradesRejected  *prometheus.CounterVec
}

// New creates the relay collectors plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Currently registered connections",
		}, []string{"role"}),

		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "total",
			Help:      "Connections accepted since start",
		}, []string{"role"}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Inbound frames read from connections",
		}, []string{"role"}),

		framesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "relayed_total",
			Help:      "Outbound frames handed to a connection",
		}, []string{"type"}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped without delivery",
		}, []string{"reason"}),

		upgradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upgrades",
			Name:      "rejected_total",
			Help:      "Connection upgrades refused before registration",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.framesReceived,
		m.framesRelayed,
		m.framesDropped,
		m.upgradesRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened(role relay.Role) {
	m.connectionsActive.WithLabelValues(role.String()).Inc()
	m.connectionsTotal.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) ConnectionClosed(role relay.Role) {
	m.connectionsActive.WithLabelValues(role.String()).Dec()
}

func (m *Metrics) FrameReceived(role relay.Role) {
	m.framesReceived.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) FrameRelayed(kind string) {
	m.framesRelayed.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	m.framesDropped.WithLabelValues(reason).Inc()
}

// UpgradeRejected counts a connection refused before it was upgraded.
func (m *Metrics) UpgradeRejected(reason string) {
	m.upgradesRejected.WithLabelValues(reason).Inc()
}

var _ relay.Recorder = (*Metrics)(nil)
