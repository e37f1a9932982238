package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tlvchat"

// Metrics holds the Prometheus collectors shared by rooms and the manager.
type Metrics struct {
	roomsActive        prometheus.Gauge
	connectionsActive  prometheus.Gauge
	framesReceived     prometheus.Counter
	framesSent         prometheus.Counter
	bytesReceived      prometheus.Counter
	bytesSent          prometheus.Counter
	framesDropped      *prometheus.CounterVec
	connectionsDropped *prometheus.CounterVec
	dispatches         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Number of rooms currently holding a worker slot",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of connections joined to a room",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames decoded from clients",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames fully flushed to clients",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Total number of frame bytes read from clients",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Total number of frame bytes written to clients",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Frames decoded but not relayed",
		}, []string{"reason"}),
		connectionsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_removed_total",
			Help:      "Connections removed from a room",
		}, []string{"reason"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatches_total",
			Help:      "Connection dispatch attempts by result",
		}, []string{"result"}),
	}
}
