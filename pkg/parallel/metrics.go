package parallel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_parallel_requests_total",
		Help: "Requests executed by the parallel caller by result",
	}, []string{"result"}) // "ok", "failed", "cancelled"

	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_parallel_inflight",
		Help: "Requests currently in flight",
	})

	chunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_parallel_chunk_duration_seconds",
		Help:    "Wall-clock duration of one window chunk",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	pagingRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_paging_rounds",
		Help:    "Rounds run by MakeParallelCallsWithPaging until no continuation remained",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
	})
)
