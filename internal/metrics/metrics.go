// Package metrics provides Prometheus collectors for the document store,
// the repository retry loop and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bulletin"

var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Document store operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Document store operation latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "op"},
	)

	RepoRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repo",
			Name:      "retries_total",
			Help:      "Repository retries by reason (unavailable, conflict, id_collision)",
		},
		[]string{"reason"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by event and result",
		},
		[]string{"event", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveStoreOp records one adapter call.
func ObserveStoreOp(backend, op, result string, elapsed time.Duration) {
	StoreOperationsTotal.WithLabelValues(backend, op, result).Inc()
	StoreOperationDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// ObserveRetry records one repository retry.
func ObserveRetry(reason string) {
	RepoRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveNotification records one notification delivery attempt.
func ObserveNotification(event, result string) {
	NotificationsTotal.WithLabelValues(event, result).Inc()
}
