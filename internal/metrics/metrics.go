// Package metrics holds the Prometheus collectors for the newsroom server.
//
//	metrics.RecordAuthAttempt("login", "success")
//	metrics.RecordPostMutation("update", "forbidden")
//	metrics.RecordCacheLookup(true)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by route pattern, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks handler latency by route pattern and method.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsroom_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// AuthAttemptsTotal counts login, register and admin-password attempts by outcome.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"action", "outcome"},
	)

	// RateLimitedTotal counts requests rejected by the fixed-window limiter.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_rate_limited_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"action"},
	)

	// PostMutationsTotal counts post writes by operation and outcome.
	PostMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_post_mutations_total",
			Help: "Total number of post create/update/delete operations",
		},
		[]string{"op", "outcome"},
	)

	// CacheLookupsTotal counts public response cache lookups.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"result"},
	)

	// CacheInvalidationsTotal counts entries dropped by tag invalidation.
	CacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsroom_cache_invalidated_entries_total",
			Help: "Total number of cache entries dropped by invalidation",
		},
	)

	// UploadsTotal counts uploads by storage backend and outcome.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsroom_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"backend", "outcome"},
	)
)

func RecordRequest(route, method, status string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func RecordAuthAttempt(action, outcome string) {
	AuthAttemptsTotal.WithLabelValues(action, outcome).Inc()
}

func RecordRateLimited(action string) {
	RateLimitedTotal.WithLabelValues(action).Inc()
}

func RecordPostMutation(op, outcome string) {
	PostMutationsTotal.WithLabelValues(op, outcome).Inc()
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

func RecordCacheInvalidation(n int) {
	CacheInvalidationsTotal.Add(float64(n))
}

func RecordUpload(backend, outcome string) {
	UploadsTotal.WithLabelValues(backend, outcome).Inc()
}
