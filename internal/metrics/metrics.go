// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rethoric",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rethoric",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// GenerationAttempts counts provider calls by result: success, retry or
	// failure.
	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rethoric",
			Subsystem: "generator",
			Name:      "attempts_total",
			Help:      "Text-generation provider attempts by result",
		},
		[]string{"model", "result"},
	)

	GenerationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rethoric",
			Subsystem: "generator",
			Name:      "outcomes_total",
			Help:      "Terminal outcomes of response generation",
		},
		[]string{"outcome"},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rethoric",
			Subsystem: "generator",
			Name:      "duration_seconds",
			Help:      "Wall time of a full generation including retries",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rethoric",
			Subsystem: "selector",
			Name:      "selections_total",
			Help:      "Next-question selections by kind",
		},
		[]string{"kind"},
	)

	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rethoric",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Open live conversation subscriptions",
		},
	)

	HubDroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rethoric",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was not keeping up",
		},
		[]string{"type"},
	)
)
