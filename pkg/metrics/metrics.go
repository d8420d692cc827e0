// Package metrics provides Prometheus metrics for the resolver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts match decisions by category and outcome.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "match",
			Name:      "decisions_total",
			Help:      "Total number of match decisions by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	// DecisionScore tracks the distribution of winning scores.
	DecisionScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "resolver",
			Subsystem: "match",
			Name:      "score",
			Help:      "Best candidate score per decision",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		},
	)

	// ReclassificationsTotal counts category changes by deciding tier.
	ReclassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "classify",
			Name:      "reclassifications_total",
			Help:      "Total number of category changes by tier and target category",
		},
		[]string{"tier", "category"},
	)

	// CatalogEntries tracks the number of indexed catalog entries.
	CatalogEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "resolver",
			Subsystem: "catalog",
			Name:      "entries",
			Help:      "Number of entries in the in-memory catalog",
		},
	)

	// RuleReloadsTotal counts rule reloads by status.
	RuleReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "rules",
			Name:      "reloads_total",
			Help:      "Total number of rule reloads by status",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts served HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks HTTP handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resolver",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	// StreamMessagesTotal counts consumed listing messages by status.
	StreamMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Total number of consumed listing messages by status",
		},
		[]string{"status"},
	)
)
