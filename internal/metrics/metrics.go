// Package metrics registers the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks currently open websocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_connections",
		Help: "Number of open websocket connections.",
	})

	// OnlineUsers tracks users with at least one live connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_online_users",
		Help: "Number of distinct users currently online.",
	})

	// EventsReceived counts inbound client events by event name.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "Inbound client events by event name.",
	}, []string{"event"})

	// EventsRejected counts inbound events dropped before dispatch.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_rejected_total",
		Help: "Inbound events rejected before dispatch, by reason.",
	}, []string{"reason"})

	// MessagesSent counts persisted chat messages by conversation kind.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_sent_total",
		Help: "Chat messages accepted and persisted, by kind (direct or room).",
	}, []string{"kind"})

	// PushDispatches counts push notification attempts by outcome.
	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_push_dispatches_total",
		Help: "Push notification dispatch attempts, by outcome.",
	}, []string{"outcome"})

	// EmergencyAlerts counts emergency alerts fanned out.
	EmergencyAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_emergency_alerts_total",
		Help: "Emergency alerts broadcast through the relay.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
