// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionTransitions counts connection state changes by resulting status.
	ConnectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentorship",
		Name:      "connection_transitions_total",
		Help:      "Connection requests created or answered, by resulting status.",
	}, []string{"status"})

	// MessagesSent counts message sends by outcome (confirmed, failed).
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentorship",
		Name:      "messages_sent_total",
		Help:      "Messages sent, by outcome.",
	}, []string{"outcome"})

	// RealtimeEvents counts change events delivered to open views.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentorship",
		Name:      "realtime_events_total",
		Help:      "Change events received from the realtime channel, by table and result.",
	}, []string{"table", "result"})

	// BackendDuration observes backend call latency.
	BackendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mentorship",
		Name:      "backend_call_duration_seconds",
		Help:      "Latency of backend data service calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "table", "result"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mentorship",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	// JobsProcessed counts worker jobs by type and result.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentorship",
		Name:      "jobs_processed_total",
		Help:      "Background jobs handled by the worker.",
	}, []string{"type", "result"})
)
