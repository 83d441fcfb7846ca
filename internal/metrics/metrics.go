// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fieldsync"

var (
	// HTTPRequests counts handled requests by route template, method and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPDuration observes request latency by route template.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// LiveConnections is the number of registered WebSocket connections.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Live WebSocket connections held by this process.",
	})

	// EventsDelivered counts events queued to a connection, by event type.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_delivered_total",
			Help:      "Push events queued to a live connection.",
		},
		[]string{"type"},
	)

	// EventsDropped counts events discarded because a send queue was full.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_dropped_total",
			Help:      "Push events dropped because the connection's send queue was full.",
		},
		[]string{"type"},
	)

	// AssistantRequests counts AI collaborator calls by outcome (ok, error, unavailable).
	AssistantRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_requests_total",
			Help:      "AI assistant calls by outcome.",
		},
		[]string{"outcome"},
	)

	// RateLimited counts requests rejected by the login/register limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	// SurveysExpired counts surveys deactivated by the expiry sweep.
	SurveysExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "surveys_expired_total",
		Help:      "Surveys marked inactive after their end date.",
	})
)
