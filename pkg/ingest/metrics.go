package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_work_items_total",
		Help: "Work items processed by vendor and terminal status",
	}, []string{"vendor", "status"})

	workItemDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_work_item_duration_seconds",
		Help:    "Wall-clock duration of one work item",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"vendor"})

	filesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_files_written_total",
		Help: "Output files written to blob storage",
	}, []string{"vendor"})

	reportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_report_runs_total",
		Help: "Asynchronous report runs by vendor and outcome",
	}, []string{"vendor", "outcome"}) // "submitted", "resubmitted", "ready", "failed", "downloaded"
)
