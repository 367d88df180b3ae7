// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshsync"

var (
	MalformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_frames_total",
		Help:      "Gateway frames rejected at decode.",
	})
	QueueOverflow = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_overflow_total",
		Help:      "Events dropped because the engine queue was full.",
	})
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Gateway reconnect attempts.",
	})
	EventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_applied_total",
		Help:      "Events accepted by the reducer, by kind.",
	}, []string{"kind"})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped by the reducer, by reason.",
	}, []string{"reason"})
	AckTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ack_timeouts_total",
		Help:      "Outgoing messages marked failed by the ack watchdog.",
	})
	ViewRecomputes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_recomputes_total",
		Help:      "Derived view recomputations, by view.",
	}, []string{"view"})
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Active change subscribers.",
	})
	SessionConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_connected",
		Help:      "1 while the gateway link is up.",
	})
)

func init() {
	prometheus.MustRegister(
		MalformedFrames,
		QueueOverflow,
		Reconnects,
		EventsApplied,
		EventsDropped,
		AckTimeouts,
		ViewRecomputes,
		Subscribers,
		SessionConnected,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
