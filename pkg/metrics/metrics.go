// Package metrics 管道可观测性计数器
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pss"

// Manager 管道的 Prometheus 指标集合
type Manager struct {
	FramesReceived   *prometheus.CounterVec // transport: udp | mqtt
	FramesMalformed  prometheus.Counter
	EventsClassified *prometheus.CounterVec // status: recognized | partial | unknown
	QueueDropped     prometheus.Counter
	QueueDepth       prometheus.Gauge
	OverridesFlagged *prometheus.CounterVec // kind: round | score | time | warning
	DetectorAnomaly  prometheus.Counter
	PersistRetries   prometheus.Counter
	PersistOverflow  prometheus.Counter
	EventsLost       prometheus.Counter
	BroadcastDropped prometheus.Counter
	Subscribers      prometheus.Gauge
	BackendReconnect *prometheus.CounterVec // backend id
	SessionsActive   prometheus.Gauge
	BridgePublished  prometheus.Counter
	BridgeDropped    prometheus.Counter
}

// New 注册并返回指标集合
func New(reg prometheus.Registerer) *Manager {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Manager{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Datagram frames received, by transport.",
		}, []string{"transport"}),
		FramesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Frames dropped by the decoder.",
		}),
		EventsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_classified_total",
			Help:      "Classified events, by recognition status.",
		}, []string{"status"}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Events evicted from the bounded pipeline queue.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current pipeline queue depth.",
		}),
		OverridesFlagged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overrides_flagged_total",
			Help:      "Manual overrides detected, by kind.",
		}, []string{"kind"}),
		DetectorAnomaly: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_anomalies_total",
			Help:      "Override detector internal faults (fail-open).",
		}),
		PersistRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_retries_total",
			Help:      "Persistence write retries.",
		}),
		PersistOverflow: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_overflow_total",
			Help:      "Events spooled to the durable overflow file.",
		}),
		EventsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_lost_total",
			Help:      "Events lost after overflow exhaustion.",
		}),
		BroadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Messages dropped for slow subscribers.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected display subscribers.",
		}),
		BackendReconnect: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reconnects_total",
			Help:      "Recording backend reconnect attempts, by backend.",
		}, []string{"backend"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Active recording/streaming sessions.",
		}),
		BridgePublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_published_total",
			Help:      "Events published to the AMQP bridge.",
		}),
		BridgeDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_dropped_total",
			Help:      "Events dropped by the AMQP bridge buffer.",
		}),
	}
}
