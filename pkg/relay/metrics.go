// Prometheus metrics for the signaling relay
package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_relay_connections",
		Help: "Current number of live client connections",
	})

	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_relay_call_rooms",
		Help: "Current number of active call signaling rooms",
	})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_relay_pending_depth",
		Help: "Current number of queued incoming-call notifications",
	})

	eventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_relay_events_total",
		Help: "Total number of signaling events relayed",
	}, []string{"type"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_relay_events_dropped_total",
		Help: "Total number of events dropped on send",
	})

	pendingQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_relay_pending_queued_total",
		Help: "Total number of incoming-call notifications queued for offline users",
	})

	pendingDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_relay_pending_delivered_total",
		Help: "Total number of queued notifications redelivered on reconnect",
	})

	pendingDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_relay_pending_dropped_total",
		Help: "Total number of queued notifications dropped as stale on reconnect",
	})

	pendingExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_relay_pending_expired_total",
		Help: "Total number of queued notifications expired unclaimed",
	})
)
