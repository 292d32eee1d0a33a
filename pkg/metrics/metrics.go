package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GroupConnections is the number of sockets admitted into a book club group
	GroupConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_ws_group_connections",
		Help: "Live websocket connections admitted into a book club group.",
	})

	// Groups is the number of non-empty groups held by the presence registry
	Groups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_ws_groups",
		Help: "Book club groups with at least one live connection.",
	})

	// DMConnections is the number of users holding a direct-message socket
	DMConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_ws_dm_connections",
		Help: "Users with a live direct-message connection.",
	})

	// Events counts inbound socket events by type and outcome
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_ws_events_total",
		Help: "Inbound websocket events by type and outcome.",
	}, []string{"type", "outcome"})

	// DroppedFrames counts outbound frames skipped because a send buffer was full or closed
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_ws_dropped_frames_total",
		Help: "Outbound frames dropped by best-effort fanout.",
	})

	// BusMessages counts cross-instance deliveries by direction
	BusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_bus_messages_total",
		Help: "Redis bus messages by direction.",
	}, []string{"direction"})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
