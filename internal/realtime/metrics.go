package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "captured_realtime_connections",
		Help: "Number of open realtime websocket connections",
	})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captured_realtime_events_total",
		Help: "Change events delivered to the local fan-out, by relation and type",
	}, []string{"relation", "type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "captured_realtime_events_dropped_total",
		Help: "Change events dropped because a subscriber was too slow",
	}, []string{"relation"})
)
