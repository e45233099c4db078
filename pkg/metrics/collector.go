// Package metrics exposes the Prometheus collectors shared by the HTTP and rate-limit layers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit decisions labeled by policy and result",
		},
		[]string{"policy", "result"},
	)
	rateLimitStoreFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_failures_total",
			Help: "Total number of counter store failures that caused a fail-open decision",
		},
		[]string{"policy", "op"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests labeled by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	rateLimitStoreBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_store_breaker_open",
			Help: "1 while the counter store circuit breaker is open, 0 otherwise",
		},
	)
	eventsCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_cleaned_total",
			Help: "Total number of expired analytics events removed",
		},
	)
)

// RecordDecision increments the decision counter for a policy.
func RecordDecision(policy string, allowed bool) {
	if policy == "" {
		policy = "unknown"
	}

	rateLimitDecisionsTotal.WithLabelValues(policy, resultLabel(allowed)).Inc()
}

// RecordStoreFailure counts a fail-open caused by the counter store.
func RecordStoreFailure(policy, op string) {
	if policy == "" {
		policy = "unknown"
	}
	if op == "" {
		op = "unknown"
	}

	rateLimitStoreFailuresTotal.WithLabelValues(policy, op).Inc()
}

// SetStoreBreakerOpen reports whether the counter store breaker is open.
func SetStoreBreakerOpen(open bool) {
	if open {
		rateLimitStoreBreakerOpen.Set(1)
		return
	}
	rateLimitStoreBreakerOpen.Set(0)
}

// RecordHTTPRequest tracks a served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}

	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordEventsCleaned adds to the expired-events counter.
func RecordEventsCleaned(count int64) {
	if count <= 0 {
		return
	}
	eventsCleanedTotal.Add(float64(count))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}
