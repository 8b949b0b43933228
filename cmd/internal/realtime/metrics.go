package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bizhub",
		Subsystem: "ws",
		Name:      "active_sessions",
		Help:      "Connected websocket sessions.",
	})

	broadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bizhub",
		Subsystem: "ws",
		Name:      "broadcast_drops_total",
		Help:      "Envelopes dropped because a client queue was full or closing.",
	})

	messagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bizhub",
		Subsystem: "ws",
		Name:      "messages_relayed_total",
		Help:      "Envelopes fanned out to participants, by type.",
	}, []string{"type"})

	duplicateSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bizhub",
		Subsystem: "ws",
		Name:      "duplicate_sends_total",
		Help:      "message_send requests suppressed by client_msg_id idempotency.",
	})
)
