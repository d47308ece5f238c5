package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequestsTotal counts outbound gateway calls by method and classified outcome.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of gateway requests (by method and outcome).",
		},
		[]string{"method", "outcome"},
	)

	// GatewayRequestDuration measures gateway round trips, including the body read.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of gateway requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms → ~41s
		},
		[]string{"method"},
	)

	// SessionEventsTotal counts session lifecycle transitions.
	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_total",
			Help: "Number of session lifecycle events by type.",
		},
		[]string{"type"},
	)

	// EventPublishErrors counts failed session event publishes per backend.
	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_errors_total",
			Help: "Number of session event publish failures by backend.",
		},
		[]string{"backend"},
	)

	// LoginThrottledTotal counts login attempts rejected by the per-IP limiter.
	LoginThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "login_throttled_total",
			Help: "Number of login attempts rejected by the rate limiter.",
		},
	)
)

// IncGatewayRequest increments the gateway request counter.
func IncGatewayRequest(method, outcome string) {
	GatewayRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// IncSessionEvent increments the session event counter.
func IncSessionEvent(eventType string) {
	SessionEventsTotal.WithLabelValues(eventType).Inc()
}

// IncPublishError increments the publish error counter for the given backend.
func IncPublishError(backend string) {
	EventPublishErrors.WithLabelValues(backend).Inc()
}

// IncLoginThrottled increments the throttled login counter.
func IncLoginThrottled() {
	LoginThrottledTotal.Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}
