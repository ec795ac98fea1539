package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for window throttling and utilization tracking.
var (
	windowWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_window_wait_seconds",
		Help:    "Time spent waiting for the next rate window",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 60},
	})

	windowHaltsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_window_halts_total",
		Help: "Total number of throttles halted by the max runtime check",
	})

	utilizationPct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingest_vendor_utilization_pct",
		Help: "Last reported vendor rate-limit utilization in percent",
	}, []string{"vendor"})

	utilizationWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_vendor_utilization_warnings_total",
		Help: "Total number of responses reporting utilization above the warning mark",
	}, []string{"vendor"})

	utilizationThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_vendor_utilization_throttles_total",
		Help: "Total number of throttle signals raised for utilization above the critical mark",
	}, []string{"vendor"})
)
