package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache-aside reads served from the cache.",
	}, []string{"aggregate"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache-aside reads recomputed from the record store.",
	}, []string{"aggregate"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Cache round-trips that failed and degraded to the record store.",
	}, []string{"op"})

	fanoutMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "fanout",
		Name:      "messages_total",
		Help:      "Messages persisted and broadcast by the fan-out pipeline.",
	}, []string{"kind"})

	fanoutFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wisp",
		Subsystem: "fanout",
		Name:      "failures_total",
		Help:      "Fan-out submissions aborted before broadcast.",
	}, []string{"stage"})
)
