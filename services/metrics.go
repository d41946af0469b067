package services

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consogab_ws_connections",
		Help: "Number of open websocket connections.",
	})

	realtimeSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consogab_realtime_subscriptions",
		Help: "Number of active conversation subscriptions.",
	})

	realtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consogab_realtime_events_total",
		Help: "Realtime events fanned out, by type.",
	}, []string{"type"})

	realtimeDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consogab_realtime_dropped_total",
		Help: "Connections dropped because their send buffer was full.",
	})

	messagesInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consogab_messages_inserted_total",
		Help: "Messages stored, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(wsConnections)
	prometheus.MustRegister(realtimeSubscriptions)
	prometheus.MustRegister(realtimeEvents)
	prometheus.MustRegister(realtimeDropped)
	prometheus.MustRegister(messagesInserted)
}
