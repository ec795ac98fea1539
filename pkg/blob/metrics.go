package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlobOperations tracks blob operations by type
	BlobOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_blob_operations_total",
			Help: "Total number of blob storage operations",
		},
		[]string{"operation"}, // "exists", "get", "put", "delete"
	)

	// BlobErrors tracks blob operation errors
	BlobErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_blob_errors_total",
			Help: "Total number of blob storage errors",
		},
		[]string{"operation"},
	)

	// BlobBytesWritten tracks bytes written to blob storage
	BlobBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_blob_bytes_written_total",
			Help: "Total number of bytes written to blob storage",
		},
	)
)
