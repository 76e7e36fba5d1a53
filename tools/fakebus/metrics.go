package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	registry  *prometheus.Registry
	sessions  prometheus.Gauge
	accepted  prometheus.Counter
	rejected  prometheus.Counter
	frames    *prometheus.CounterVec
	published prometheus.Counter
	delivered prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	metrics := &serverMetrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fakebus_sessions",
			Help: "Open websocket sessions.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fakebus_sessions_accepted_total",
			Help: "Websocket sessions accepted.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fakebus_sessions_rejected_total",
			Help: "Upgrade requests rejected by token authentication.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fakebus_frames_total",
			Help: "Client control frames by type and result.",
		}, []string{"type", "result"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fakebus_published_total",
			Help: "Events published through the admin API.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fakebus_delivered_total",
			Help: "Event frames written to sessions.",
		}),
	}
	metrics.registry.MustRegister(
		metrics.sessions,
		metrics.accepted,
		metrics.rejected,
		metrics.frames,
		metrics.published,
		metrics.delivered,
	)
	return metrics
}
