package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/adfetch/pkg/blob"
)

const (
	// ManifestFile lists the files of a completed work item.
	ManifestFile = "manifest.json"

	// PartialManifestFile lists the files written by failed attempts.
	PartialManifestFile = "manifest.partial.json"
)

// ManifestEntry describes one file produced for the downstream loader.
type ManifestEntry struct {
	SourceFileName string `json:"source_file_name"`
	FilePath       string `json:"file_path"`
	FileSize       int64  `json:"file_size"`
}

// Manifest lists the files of one work item.
type Manifest struct {
	Vendor     string          `json:"vendor"`
	WorkItemID string          `json:"work_item_id"`
	AccountID  string          `json:"account_id"`
	TargetDate string          `json:"target_date"`
	CreatedAt  time.Time       `json:"created_at"`
	Entries    []ManifestEntry `json:"entries"`
}

// Merge adds entries, replacing earlier entries with the same file path.
func (m *Manifest) Merge(entries []ManifestEntry) {
	index := make(map[string]int, len(m.Entries))
	for i, e := range m.Entries {
		index[e.FilePath] = i
	}
	for _, e := range entries {
		if i, ok := index[e.FilePath]; ok {
			m.Entries[i] = e
			continue
		}
		index[e.FilePath] = len(m.Entries)
		m.Entries = append(m.Entries, e)
	}
}

func manifestPath(item WorkItem, name string) string {
	return blob.PathFor(item.AccountID(), item.TargetDate(), name)
}

func readManifest(ctx context.Context, h blob.Handle) (*Manifest, error) {
	rc, err := h.Get(ctx)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Path(), err)
	}
	return &m, nil
}

func writeManifest(ctx context.Context, h blob.Handle, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := h.Put(ctx, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", h.Path(), err)
	}
	return nil
}

// fileWriter writes a work item's output files and records their manifest
// entries. It is safe for concurrent use.
type fileWriter struct {
	blobs  blob.Store
	item   WorkItem
	vendor string

	mu      sync.Mutex
	entries []ManifestEntry
}

func newFileWriter(blobs blob.Store, item WorkItem, vendor string) *fileWriter {
	return &fileWriter{blobs: blobs, item: item, vendor: vendor}
}

func (w *fileWriter) write(ctx context.Context, fileName string, r io.Reader) (int64, error) {
	path := blob.PathFor(w.item.AccountID(), w.item.TargetDate(), fileName)
	n, err := w.blobs.Open(path).Put(ctx, r)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}

	filesWrittenTotal.WithLabelValues(w.vendor).Inc()
	w.mu.Lock()
	w.entries = append(w.entries, ManifestEntry{SourceFileName: fileName, FilePath: path, FileSize: n})
	w.mu.Unlock()
	return n, nil
}

func (w *fileWriter) Entries() []ManifestEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ManifestEntry(nil), w.entries...)
}
