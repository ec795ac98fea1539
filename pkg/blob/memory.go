package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MemoryStore keeps blobs in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Open returns the handle for path.
func (s *MemoryStore) Open(path string) Handle {
	return &memoryHandle{store: s, path: path}
}

// Paths returns the paths of all stored blobs in lexical order.
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Bytes returns a copy of the blob at path.
func (s *MemoryStore) Bytes(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

type memoryHandle struct {
	store *MemoryStore
	path  string
}

func (h *memoryHandle) Path() string {
	return h.path
}

func (h *memoryHandle) Exists(_ context.Context) (bool, error) {
	BlobOperations.WithLabelValues("exists").Inc()
	_, ok := h.store.Bytes(h.path)
	return ok, nil
}

func (h *memoryHandle) Get(_ context.Context) (io.ReadCloser, error) {
	BlobOperations.WithLabelValues("get").Inc()
	data, ok := h.store.Bytes(h.path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h.path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (h *memoryHandle) Put(_ context.Context, r io.Reader) (int64, error) {
	BlobOperations.WithLabelValues("put").Inc()

	data, err := io.ReadAll(r)
	if err != nil {
		BlobErrors.WithLabelValues("put").Inc()
		return 0, fmt.Errorf("read blob content: %w", err)
	}

	h.store.mu.Lock()
	h.store.blobs[h.path] = data
	h.store.mu.Unlock()

	BlobBytesWritten.Add(float64(len(data)))
	return int64(len(data)), nil
}

func (h *memoryHandle) Delete(_ context.Context) error {
	BlobOperations.WithLabelValues("delete").Inc()

	h.store.mu.Lock()
	delete(h.store.blobs, h.path)
	h.store.mu.Unlock()
	return nil
}
