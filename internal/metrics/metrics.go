package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Client engine metrics
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmchat_inbound_messages_total",
			Help: "Inbound live frames by routing outcome",
		},
		[]string{"outcome"}, // "displayed", "unread", "duplicate", "foreign", "malformed"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmchat_messages_sent_total",
			Help: "Messages written to the live channel",
		},
	)

	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmchat_connect_attempts_total",
			Help: "Live channel connect attempts",
		},
		[]string{"result"}, // "opened", "reused", "failed"
	)

	HistoryLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmchat_history_loads_total",
			Help: "History loads by result",
		},
		[]string{"result"}, // "applied", "stale", "failed"
	)

	// Relay metrics
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dmchat_relay_connections",
			Help: "Open live channel connections on the relay",
		},
	)

	RelayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmchat_relay_frames_total",
			Help: "Frames processed by the relay",
		},
		[]string{"result"}, // "delivered", "rejected", "malformed"
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmchat_relay_http_requests_total",
			Help: "Total relay HTTP requests",
		},
		[]string{"method", "status"},
	)
)
