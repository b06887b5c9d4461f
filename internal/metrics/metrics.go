package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BacktestsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewise_backtests_total",
			Help: "Total number of backtests run (by outcome).",
		},
		[]string{"outcome"},
	)

	TicksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewise_ticks_processed_total",
			Help: "Ticks applied to subscription windows (by symbol).",
		},
		[]string{"symbol"},
	)

	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewise_ticks_dropped_total",
			Help: "Ticks discarded (by symbol and reason).",
		},
		[]string{"symbol", "reason"},
	)

	TriggersEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewise_triggers_total",
			Help: "Trigger events emitted (by symbol and action).",
		},
		[]string{"symbol", "action"},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradewise_notifications_dropped_total",
			Help: "Trigger events dropped because the notification queue was full.",
		},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradewise_active_subscriptions",
			Help: "Current number of active live subscriptions.",
		},
	)

	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradewise_stream_reconnects_total",
			Help: "Number of times the tick stream was re-dialled.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BacktestsRun,
		TicksProcessed,
		TicksDropped,
		TriggersEmitted,
		NotificationsDropped,
		ActiveSubscriptions,
		StreamReconnects,
	)
}
