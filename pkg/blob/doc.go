// Package blob provides durable key-value blob storage behind an opaque
// file-like handle.
//
// The ingestion engine never sees the storage technology: it resolves a
// Handle from a Store by path and uses Exists, Get, Put and Delete.
//
// # Paths
//
// Report files live under PathFor(accountID, date, fileName):
//
//	act_123/2026-10-18/insights_0.json
//
// Engine state (snapshots, id vault) lives under StatePath(vendor, fileName):
//
//	_state/meta/snapshots.json
//
// # Backends
//
//   - RedisStore keeps each blob as one Redis string under "ingest:blob:<path>"
//   - MemoryStore keeps blobs in process memory (tests, dry runs)
//
// # Metrics
//
//   - ingest_blob_operations_total{operation}
//   - ingest_blob_errors_total{operation}
//   - ingest_blob_bytes_written_total
package blob
