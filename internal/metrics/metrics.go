// Package metrics exposes the Prometheus instruments for the messaging
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "covetalks_ws_connections",
		Help: "Currently open websocket connections.",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "covetalks_messages_delivered_total",
		Help: "Messages fanned out over the realtime hub.",
	})

	TypingEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "covetalks_typing_events_total",
		Help: "Typing signals relayed between conversation participants.",
	})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "covetalks_send_failures_total",
		Help: "Message sends rejected or failed at the service layer.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "covetalks_messages_sent_total",
		Help: "Messages accepted and persisted.",
	})
)
