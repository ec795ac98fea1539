// Package metrics exposes the Prometheus registry and HTTP handler of the
// ingestion engine. Metrics themselves are defined in the packages that
// record them (client, retry, ratelimit, parallel, fetchstate, blob, ingest)
// so that no package depends on a central metrics package.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer every package registers with via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Vendor Request Metrics (pkg/client):
//   - ingest_requests_total{vendor, status} (Counter): Vendor requests by HTTP status
//   - ingest_request_duration_seconds{vendor} (Histogram): Request duration, retries included
//   - ingest_request_errors_total{vendor, class} (Counter): Failures by class (client, server, rate_limit, network)
//   - ingest_response_bytes_total{vendor} (Counter): Response body bytes received
//
// Retry Metrics (pkg/retry):
//   - ingest_retries_total{session} (Counter): Retry attempts by session name
//   - ingest_retry_backoff_seconds{session, source} (Histogram): Delay before a retry (policy or vendor hint)
//   - ingest_retry_exhausted_total{session} (Counter): Sessions that ran out of attempts
//   - ingest_retry_cancelled_total{session} (Counter): Sessions stopped by the runtime budget
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ingest_window_wait_seconds (Histogram): Time spent waiting for the next window
//   - ingest_window_halts_total (Counter): Throttles halted by the max runtime check
//   - ingest_vendor_utilization_pct{vendor} (Gauge): Last reported vendor utilization
//   - ingest_vendor_utilization_warnings_total{vendor} (Counter): Responses above the warning mark
//   - ingest_vendor_utilization_throttles_total{vendor} (Counter): Responses above the critical mark
//
// Parallel Caller Metrics (pkg/parallel):
//   - ingest_parallel_requests_total{result} (Counter): Requests by result (ok, failed, cancelled)
//   - ingest_parallel_inflight (Gauge): Requests currently in flight
//   - ingest_parallel_chunk_duration_seconds (Histogram): Duration of one window chunk
//   - ingest_paging_rounds (Histogram): Rounds until no continuation remained
//
// Fetch State Metrics (pkg/fetchstate):
//   - ingest_state_pruned_total{kind} (Counter): Expired snapshots and cubes discarded on load
//   - ingest_state_persist_total{kind, result} (Counter): State writes to blob storage
//   - ingest_vault_skipped_ids_total{kind} (Counter): Dimension ids already downloaded today
//
// Blob Metrics (pkg/blob):
//   - ingest_blob_operations_total{operation} (Counter): exists, get, put, delete
//   - ingest_blob_errors_total{operation} (Counter): Failed blob operations
//   - ingest_blob_bytes_written_total (Counter): Bytes written
//
// Work Item Metrics (pkg/ingest):
//   - ingest_work_items_total{vendor, status} (Counter): Work items by terminal status
//   - ingest_work_item_duration_seconds{vendor} (Histogram): Duration of one work item
//   - ingest_files_written_total{vendor} (Counter): Output files written
//   - ingest_report_runs_total{vendor, outcome} (Counter): Async report runs by outcome
//
// Example Prometheus Queries:
//
//   # Work item failure ratio
//   sum(rate(ingest_work_items_total{status="error"}[1h])) /
//   sum(rate(ingest_work_items_total[1h]))
//
//   # Vendor close to its rate limit
//   ingest_vendor_utilization_pct > 90
//
//   # Share of time spent waiting on windows
//   rate(ingest_window_wait_seconds_sum[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(ingest_request_duration_seconds_bucket[5m]))
//
//   # Dimension downloads saved by the id vault
//   rate(ingest_vault_skipped_ids_total[1h])
