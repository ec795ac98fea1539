package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry sessions.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retries_total",
		Help: "Total number of retry attempts by session name",
	}, []string{"session"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by session name and delay source",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"session", "source"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retry_exhausted_total",
		Help: "Total number of sessions that ran out of attempts",
	}, []string{"session"})

	retryCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_retry_cancelled_total",
		Help: "Total number of sessions stopped by the wall-clock budget",
	}, []string{"session"})
)
