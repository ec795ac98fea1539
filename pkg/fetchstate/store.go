package fetchstate

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
	"github.com/rs/zerolog"
)

// DefaultRetention is how long a vendor keeps async run ids valid.
const DefaultRetention = 30 * 24 * time.Hour

// Owner identifies the work item and account state belongs to.
type Owner interface {
	ID() string
	AccountID() string
}

// Config holds the state store configuration.
type Config struct {
	// Snapshots and Vault are the blobs the state is persisted to.
	Snapshots blob.Handle
	Vault     blob.Handle

	// Retention discards snapshots not modified for longer. Defaults to
	// DefaultRetention.
	Retention time.Duration
}

// Store holds the Snapshot and Id Vault of one vendor. All methods are safe
// for concurrent use, but the store expects a single owning orchestrator.
type Store struct {
	mu sync.Mutex

	snapshotsBlob blob.Handle
	vaultBlob     blob.Handle
	retention     time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	snapshots map[string]*Snapshot
	vault     map[string]*VaultEntry
}

// NewStore creates a store with empty state. Call LoadSnapshots and
// LoadIdVault before use.
func NewStore(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Snapshots == nil || cfg.Vault == nil {
		return nil, errors.New("snapshot and vault handles are required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Store{
		snapshotsBlob: cfg.Snapshots,
		vaultBlob:     cfg.Vault,
		retention:     cfg.Retention,
		now:           time.Now,
		logger:        logger.With().Str("component", "fetch-state").Logger(),
		snapshots:     make(map[string]*Snapshot),
		vault:         make(map[string]*VaultEntry),
	}, nil
}

// load reads h into v. A missing or unparsable blob leaves v untouched and
// is not an error; a storage failure is.
func (s *Store) load(ctx context.Context, h blob.Handle, v any) error {
	rc, err := h.Get(ctx)
	if errors.Is(err, blob.ErrNotFound) {
		s.logger.Debug().Str("path", h.Path()).Msg("No persisted state, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", h.Path(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", h.Path(), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("path", h.Path()).Msg("Discarding unparsable state")
	}
	return nil
}

// persist writes v to h. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, kind string, h blob.Handle, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		statePersistTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	if _, err := h.Put(ctx, bytes.NewReader(data)); err != nil {
		statePersistTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("persist %s: %w", kind, err)
	}
	statePersistTotal.WithLabelValues(kind, "ok").Inc()
	return nil
}

// today returns the current UTC date at midnight.
func (s *Store) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}
