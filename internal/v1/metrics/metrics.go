package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: signaling (application-level grouping)
// - subsystem: websocket, room, ingress (feature-level grouping)
//
// Metric types:
// - Gauge: current state (connections, rooms, queue depth)
// - Counter: cumulative events (frames processed, errors, drops)
// - Histogram: latency distributions (dispatch time)

var (
	// ActiveConnections tracks the current number of live client slots.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of live client connections",
	})

	// ConnectionsTotal counts every accepted connection over the process lifetime.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_total",
		Help:      "Total client connections accepted",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the participant count per room. Gauge rather
	// than histogram because we want the current occupancy, not a
	// distribution of historical counts.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// Events counts dispatched client events by name and outcome.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total client events dispatched",
	}, []string{"event", "status"})

	// Errors counts server-side error conditions (malformed frames,
	// unknown events, capacity refusals).
	Errors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "errors_total",
		Help:      "Total protocol and capacity errors",
	})

	// IngressDepth is the number of entries waiting in the ingress queue.
	IngressDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "ingress",
		Name:      "queue_depth",
		Help:      "Current number of queued ingress entries",
	})

	// IngressDropped counts frames dropped because the ingress queue was full.
	IngressDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "ingress",
		Name:      "dropped_total",
		Help:      "Total ingress entries dropped on overflow",
	})

	// RateLimited counts requests refused by the rate limiter, by scope
	// (websocket upgrade or plain API).
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "rate_limited_total",
		Help:      "Total requests refused by the rate limiter",
	}, []string{"scope"})

	// DispatchDuration tracks time spent processing one ingress entry.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "dispatch_seconds",
		Help:      "Time spent dispatching one ingress entry",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	}, []string{"event"})
)

func IncConnection() {
	ActiveConnections.Inc()
	ConnectionsTotal.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
