// Package metrics provides Prometheus instrumentation for the messaging SDK
// and the bridge daemon. It exposes counters for realtime frames and routed
// events, histograms for REST latency, and bridge throughput counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RESTRequestsTotal counts REST calls, labeled by endpoint and outcome:
	// "ok", "api_error", "transport_error" or "malformed".
	RESTRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_rest_requests_total",
		Help: "Total number of REST calls made to the messaging backend",
	}, []string{"endpoint", "outcome"})

	// RESTLatency records REST call latency in seconds.
	RESTLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "im_rest_latency_seconds",
		Help:    "REST call latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"endpoint"})

	// RealtimeConnections tracks the number of open realtime channels.
	RealtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_realtime_connections",
		Help: "Current number of open realtime channels",
	})

	// FramesTotal counts realtime frames, labeled by direction: "in" or "out".
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_realtime_frames_total",
		Help: "Total number of realtime frames read or written",
	}, []string{"direction"})

	// MalformedTotal counts inbound payloads dropped at the decode boundary,
	// labeled by event name.
	MalformedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_malformed_payloads_total",
		Help: "Total number of inbound payloads dropped as malformed",
	}, []string{"event"})

	// EventsDispatched counts events routed to subscribers, labeled by kind.
	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_events_dispatched_total",
		Help: "Total number of events routed through the subscription registry",
	}, []string{"kind"})

	// BridgePublished counts events the bridge published to NATS, labeled by kind.
	BridgePublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_bridge_published_total",
		Help: "Total number of events published by the bridge",
	}, []string{"kind"})

	// BridgeOutbound counts outbound requests handled by the bridge, labeled by
	// type ("message", "typing") and result ("sent", "limited", "rejected",
	// "failed").
	BridgeOutbound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "im_bridge_outbound_total",
		Help: "Total number of outbound requests handled by the bridge",
	}, []string{"type", "result"})

	// ArchivedTotal counts messages written to the archive.
	ArchivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_archived_messages_total",
		Help: "Total number of messages written to the archive",
	})
)

func init() {
	prometheus.MustRegister(
		RESTRequestsTotal,
		RESTLatency,
		RealtimeConnections,
		FramesTotal,
		MalformedTotal,
		EventsDispatched,
		BridgePublished,
		BridgeOutbound,
		ArchivedTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
