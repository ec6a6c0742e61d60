// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream sensor API
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Upstream fetches by result",
		},
		[]string{"result"}, // "ok", "unavailable", "malformed", "rejected"
	)

	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream fetches in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// Render cycle
	RenderCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_cycles_total",
			Help: "Render cycles by outcome",
		},
		[]string{"outcome"},
	)

	RenderOverlays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "render_overlays",
			Help: "Overlays in the current scene",
		},
	)

	// WebSocket
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)

	WSBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_broadcasts_total",
			Help: "Scenes broadcast to WebSocket clients",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "WebSocket errors by type",
		},
		[]string{"error_type"},
	)

	// HTTP API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordUpstream records one upstream fetch.
func RecordUpstream(result string, duration time.Duration) {
	UpstreamRequests.WithLabelValues(result).Inc()
	UpstreamDuration.Observe(duration.Seconds())
}

// RecordRenderCycle records a cycle outcome and, when drawn, the overlay count.
func RecordRenderCycle(outcome string, overlays int, drawn bool) {
	RenderCycles.WithLabelValues(outcome).Inc()
	if drawn {
		RenderOverlays.Set(float64(overlays))
	}
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
