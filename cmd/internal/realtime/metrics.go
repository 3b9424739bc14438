package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wisp",
		Subsystem: "realtime",
		Name:      "active_sessions",
		Help:      "Currently registered websocket sessions.",
	})

	broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "realtime",
		Name:      "broadcasts_total",
		Help:      "Room broadcasts performed.",
	})

	broadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "realtime",
		Name:      "broadcast_drops_total",
		Help:      "Envelopes dropped because a client queue was full or closing.",
	})

	signalRelays = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "realtime",
		Name:      "signal_relays_total",
		Help:      "Call signaling envelopes relayed, by inbound type.",
	}, []string{"type"})

	joinDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "realtime",
		Name:      "join_denied_total",
		Help:      "Room join attempts denied by the capability check.",
	})
)
