package fetchstate

import (
	"context"
	"slices"
	"sort"
	"time"
)

// Cube is the set of ids of one dimension kind already downloaded for an
// account on one processing day.
type Cube struct {
	Kind string `json:"kind"`

	// WorkItemID scopes the cube to one work item. Empty means the cube was
	// populated outside a work item and applies account-wide.
	WorkItemID string `json:"work_item_id,omitempty"`

	IDs         []string  `json:"ids"`
	LastUpdated time.Time `json:"last_updated"`
}

// VaultEntry holds the cubes of one account.
type VaultEntry struct {
	AccountID string  `json:"account_id"`
	Cubes     []*Cube `json:"cubes"`
}

// LoadIdVault reads the persisted vault and purges cubes last updated
// before the current UTC day. A missing or corrupt blob yields empty state.
func (s *Store) LoadIdVault(ctx context.Context) error {
	var list []*VaultEntry
	if err := s.load(ctx, s.vaultBlob, &list); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	s.vault = make(map[string]*VaultEntry, len(list))
	pruned := 0
	for _, entry := range list {
		if entry == nil || entry.AccountID == "" {
			continue
		}
		fresh := entry.Cubes[:0]
		for _, c := range entry.Cubes {
			if c == nil || c.LastUpdated.UTC().Before(today) {
				pruned++
				continue
			}
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			continue
		}
		entry.Cubes = fresh
		s.vault[entry.AccountID] = entry
	}
	statePrunedTotal.WithLabelValues("cube").Add(float64(pruned))

	s.logger.Debug().Int("accounts", len(s.vault)).Int("pruned_cubes", pruned).Msg("Id vault loaded")

	if pruned > 0 {
		return s.persistVault(ctx)
	}
	return nil
}

// GetIdsForDimensionDownload returns the ids of kind recorded in the owner's
// snapshot that are in neither the account-wide cube nor the owner's own
// cube. The returned ids are merged into the owner's cube before returning;
// the caller treats them as the authoritative new work.
func (s *Store) GetIdsForDimensionDownload(ctx context.Context, owner Owner, kind string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []string
	if snap, ok := s.snapshots[owner.ID()]; ok {
		candidates = snap.EntityIDs[kind]
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	known := make(map[string]struct{})
	entry := s.vault[owner.AccountID()]
	if entry != nil {
		for _, c := range entry.Cubes {
			if c.Kind != kind || (c.WorkItemID != "" && c.WorkItemID != owner.ID()) {
				continue
			}
			for _, id := range c.IDs {
				known[id] = struct{}{}
			}
		}
	}

	var fresh []string
	for _, id := range candidates {
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		fresh = append(fresh, id)
	}
	vaultSkippedIDs.WithLabelValues(kind).Add(float64(len(candidates) - len(fresh)))

	if len(fresh) == 0 {
		return nil, nil
	}

	s.mergeCube(owner.AccountID(), owner.ID(), kind, fresh)
	if err := s.persistVault(ctx); err != nil {
		return nil, err
	}
	return fresh, nil
}

// MergeAccountIDs records ids of kind as downloaded account-wide for today.
func (s *Store) MergeAccountIDs(ctx context.Context, accountID, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeCube(accountID, "", kind, ids)
	return s.persistVault(ctx)
}

// DiscardWorkItemCubes drops the owner's cubes of the given kinds (every kind
// when none is given), so a rerun downloads those dimensions again.
// Account-wide cubes are kept.
func (s *Store) DiscardWorkItemCubes(ctx context.Context, owner Owner, kinds ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.vault[owner.AccountID()]
	if entry == nil {
		return nil
	}
	kept := entry.Cubes[:0]
	for _, c := range entry.Cubes {
		if c.WorkItemID != owner.ID() || !matchesKind(c.Kind, kinds) {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(entry.Cubes) {
		return nil
	}
	entry.Cubes = kept
	if len(kept) == 0 {
		delete(s.vault, owner.AccountID())
	}
	return s.persistVault(ctx)
}

func matchesKind(kind string, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	return slices.Contains(kinds, kind)
}

// VaultIDs returns every id of kind the account has downloaded today in the
// scope of workItemID (account-wide cubes included), sorted.
func (s *Store) VaultIDs(accountID, workItemID, kind string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.vault[accountID]
	if entry == nil {
		return nil
	}
	var ids []string
	for _, c := range entry.Cubes {
		if c.Kind == kind && (c.WorkItemID == "" || c.WorkItemID == workItemID) {
			ids = union(ids, c.IDs)
		}
	}
	sort.Strings(ids)
	return ids
}

// mergeCube adds ids to the cube of (account, work item, kind), creating the
// account entry and cube when absent. Callers hold s.mu.
func (s *Store) mergeCube(accountID, workItemID, kind string, ids []string) {
	entry := s.vault[accountID]
	if entry == nil {
		entry = &VaultEntry{AccountID: accountID}
		s.vault[accountID] = entry
	}

	now := s.now().UTC()
	for _, c := range entry.Cubes {
		if c.Kind == kind && c.WorkItemID == workItemID {
			c.IDs = union(c.IDs, ids)
			c.LastUpdated = now
			return
		}
	}
	entry.Cubes = append(entry.Cubes, &Cube{
		Kind:        kind,
		WorkItemID:  workItemID,
		IDs:         union(nil, ids),
		LastUpdated: now,
	})
}

func (s *Store) persistVault(ctx context.Context) error {
	list := make([]*VaultEntry, 0, len(s.vault))
	for _, entry := range s.vault {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AccountID < list[j].AccountID })
	return s.persist(ctx, "vault", s.vaultBlob, list)
}
