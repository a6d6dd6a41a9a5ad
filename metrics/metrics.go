package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sakani",
		Subsystem: "chat",
		Name:      "messages_ingested_total",
		Help:      "Messages persisted, by entry path.",
	}, []string{"path"})

	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sakani",
		Subsystem: "chat",
		Name:      "ingest_failures_total",
		Help:      "Rejected or failed ingestions, by reason.",
	}, []string{"reason"})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sakani",
		Subsystem: "chat",
		Name:      "events_delivered_total",
		Help:      "Events queued to subscriber connections, by event.",
	}, []string{"event"})

	SlowConsumers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sakani",
		Subsystem: "chat",
		Name:      "slow_consumers_closed_total",
		Help:      "Connections closed because their outbound queue was full.",
	})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sakani",
		Subsystem: "chat",
		Name:      "live_connections",
		Help:      "Registered channel connections.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sakani",
		Subsystem: "chat",
		Name:      "active_rooms",
		Help:      "Rooms with at least one subscriber.",
	})
)
