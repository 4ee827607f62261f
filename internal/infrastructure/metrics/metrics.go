// Package metrics exposes MQTT client counters to Prometheus.
//
// Collectors are registered on a caller-supplied registry rather than the
// global default so tests and multiple clients do not collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt/packet"
)

const (
	namespace = "lightlink"
	subsystem = "mqtt"
)

// Metrics holds the client collectors. It implements both the mqtt
// Observer and Handler interfaces.
type Metrics struct {
	registry *prometheus.Registry

	PacketsSent        *prometheus.CounterVec
	PacketsReceived    *prometheus.CounterVec
	DecodeErrors       prometheus.Counter
	ReconnectAttempts  prometheus.Counter
	ConnectionFailures prometheus.Counter
	MessagesReceived   *prometheus.CounterVec
	Connected          prometheus.Gauge
}

// New registers the collectors on reg. A nil reg creates a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PacketsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "MQTT control packets written to the broker.",
		}, []string{"type"}),
		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "MQTT control packets read from the broker.",
		}, []string{"type"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts made by the backoff loop.",
		}),
		ConnectionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_failures_total",
			Help:      "Connection failures reported to the application.",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Application messages delivered, by topic.",
		}, []string{"topic"}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected",
			Help:      "1 while the application considers the client connected.",
		}),
	}
}

// TrackState registers a gauge reporting the client's connection state as
// a number (see mqtt.ConnectionState).
func (m *Metrics) TrackState(state func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connection_state",
		Help:      "Client connection state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 manually disconnected.",
	}, state))
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PacketSent implements mqtt.Observer.
func (m *Metrics) PacketSent(t packet.Type) {
	m.PacketsSent.WithLabelValues(t.String()).Inc()
}

// PacketReceived implements mqtt.Observer.
func (m *Metrics) PacketReceived(t packet.Type) {
	m.PacketsReceived.WithLabelValues(t.String()).Inc()
}

// DecodeError implements mqtt.Observer.
func (m *Metrics) DecodeError() {
	m.DecodeErrors.Inc()
}

// ReconnectAttempt implements mqtt.Observer.
func (m *Metrics) ReconnectAttempt() {
	m.ReconnectAttempts.Inc()
}

// OnConnected implements mqtt.Handler.
func (m *Metrics) OnConnected() {
	m.Connected.Set(1)
}

// OnConnectionFailed implements mqtt.Handler.
func (m *Metrics) OnConnectionFailed(error) {
	m.Connected.Set(0)
	m.ConnectionFailures.Inc()
}

// OnMessageReceived implements mqtt.Handler.
func (m *Metrics) OnMessageReceived(topic string, _ []byte) {
	m.MessagesReceived.WithLabelValues(topic).Inc()
}
