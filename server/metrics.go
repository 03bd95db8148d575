package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's prometheus collectors.
type Metrics struct {
	Connections     prometheus.Gauge
	FramesDelivered *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	MessagesStored  prometheus.Counter
	Notifications   prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wirechat_connections",
			Help: "Currently open websocket connections.",
		}),
		FramesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_frames_delivered_total",
			Help: "Frames fanned out to clients, by topic.",
		}, []string{"topic"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wirechat_frames_dropped_total",
			Help: "Inbound frames dropped, by reason.",
		}, []string{"reason"}),
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_messages_stored_total",
			Help: "Messages durably stored.",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wirechat_notifications_total",
			Help: "Notifications produced.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Connections,
		m.FramesDelivered,
		m.FramesDropped,
		m.MessagesStored,
		m.Notifications,
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
