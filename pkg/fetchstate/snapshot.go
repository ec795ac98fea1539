package fetchstate

import (
	"context"
	"sort"
	"time"
)

// Snapshot is the durable record of a work item's pending report items.
type Snapshot struct {
	WorkItemID string       `json:"work_item_id"`
	AccountID  string       `json:"account_id"`
	Reports    []ReportItem `json:"reports"`

	// EntityIDs are the dimension ids discovered while fetching, by kind.
	EntityIDs map[string][]string `json:"entity_ids,omitempty"`

	LastModified time.Time `json:"last_modified"`
}

// LoadSnapshots reads the persisted snapshots and discards the ones older
// than the retention window. A missing or corrupt blob yields empty state.
func (s *Store) LoadSnapshots(ctx context.Context) error {
	var list []*Snapshot
	if err := s.load(ctx, s.snapshotsBlob, &list); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	s.snapshots = make(map[string]*Snapshot, len(list))
	pruned := 0
	for _, snap := range list {
		if snap == nil || snap.WorkItemID == "" {
			continue
		}
		if snap.LastModified.Before(cutoff) {
			pruned++
			s.logger.Info().
				Str("work_item_id", snap.WorkItemID).
				Time("last_modified", snap.LastModified).
				Msg("Discarding expired snapshot")
			continue
		}
		s.snapshots[snap.WorkItemID] = snap
	}
	statePrunedTotal.WithLabelValues("snapshot").Add(float64(pruned))

	s.logger.Debug().Int("snapshots", len(s.snapshots)).Int("pruned", pruned).Msg("Snapshots loaded")

	if pruned > 0 {
		return s.persistSnapshots(ctx)
	}
	return nil
}

// TakeSnapshot upserts items into the owner's snapshot and persists all
// snapshots. An item matching an existing one (same run id and name) updates
// its lifecycle flags and tracking URL instead of being appended. Resubmit is
// set when the item's most recent attempt failed.
func (s *Store) TakeSnapshot(ctx context.Context, owner Owner, items []ReportItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotFor(owner)
	for _, item := range items {
		item.WorkItemID = owner.ID()
		item.Resubmit = item.Failed()

		found := false
		for i := range snap.Reports {
			existing := &snap.Reports[i]
			if !sameReport(*existing, item) {
				continue
			}
			existing.RunID = item.RunID
			existing.TrackingURL = item.TrackingURL
			existing.Ready = item.Ready
			existing.Downloaded = item.Downloaded
			existing.FailedDownload = item.FailedDownload
			existing.FailedStatusCheck = item.FailedStatusCheck
			existing.Resubmit = item.Resubmit
			found = true
			break
		}
		if !found {
			snap.Reports = append(snap.Reports, item)
		}
	}
	snap.LastModified = s.now()

	return s.persistSnapshots(ctx)
}

// PendingReports returns copies of the owner's report items not yet downloaded.
func (s *Store) PendingReports(workItemID string) []ReportItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[workItemID]
	if !ok {
		return nil
	}
	var pending []ReportItem
	for _, r := range snap.Reports {
		if !r.Downloaded {
			pending = append(pending, r)
		}
	}
	return pending
}

// HasSnapshot reports whether state exists for the work item.
func (s *Store) HasSnapshot(workItemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[workItemID]
	return ok
}

// RecordEntityIDs adds dimension ids discovered for the owner and persists
// the snapshots.
func (s *Store) RecordEntityIDs(ctx context.Context, owner Owner, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotFor(owner)
	if snap.EntityIDs == nil {
		snap.EntityIDs = make(map[string][]string)
	}
	snap.EntityIDs[kind] = union(snap.EntityIDs[kind], ids)
	snap.LastModified = s.now()

	return s.persistSnapshots(ctx)
}

// ClearSnapshot removes the work item's snapshot and persists.
func (s *Store) ClearSnapshot(ctx context.Context, workItemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[workItemID]; !ok {
		return nil
	}
	delete(s.snapshots, workItemID)
	return s.persistSnapshots(ctx)
}

func (s *Store) snapshotFor(owner Owner) *Snapshot {
	snap, ok := s.snapshots[owner.ID()]
	if !ok {
		snap = &Snapshot{WorkItemID: owner.ID(), AccountID: owner.AccountID()}
		s.snapshots[owner.ID()] = snap
	}
	return snap
}

func (s *Store) persistSnapshots(ctx context.Context) error {
	list := make([]*Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		list = append(list, snap)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].WorkItemID < list[j].WorkItemID })
	return s.persist(ctx, "snapshot", s.snapshotsBlob, list)
}

// union appends the ids of add missing from base, keeping first-seen order.
func union(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
