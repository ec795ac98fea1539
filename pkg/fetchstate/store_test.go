package fetchstate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/rs/zerolog"
)

type owner struct {
	id      string
	account string
}

func (o owner) ID() string        { return o.id }
func (o owner) AccountID() string { return o.account }

var fixedNow = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, mem *blob.MemoryStore) *Store {
	t.Helper()

	s, err := NewStore(Config{
		Snapshots: mem.Open(blob.StatePath("meta", "snapshots.json")),
		Vault:     mem.Open(blob.StatePath("meta", "idvault.json")),
		Retention: 30 * 24 * time.Hour,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	s.now = func() time.Time { return fixedNow }
	return s
}

func seed(t *testing.T, mem *blob.MemoryStore, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Open(blob.StatePath("meta", name)).Put(context.Background(), strings.NewReader(string(data))); err != nil {
		t.Fatal(err)
	}
}

func TestNewStore_RequiresHandles(t *testing.T) {
	if _, err := NewStore(Config{}, zerolog.Nop()); err == nil {
		t.Error("NewStore() without handles should fail")
	}
}

func TestLoad_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		s := newTestStore(t, blob.NewMemoryStore())
		if err := s.LoadSnapshots(ctx); err != nil {
			t.Errorf("LoadSnapshots() error = %v", err)
		}
		if err := s.LoadIdVault(ctx); err != nil {
			t.Errorf("LoadIdVault() error = %v", err)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		mem := blob.NewMemoryStore()
		mem.Open(blob.StatePath("meta", "snapshots.json")).Put(ctx, strings.NewReader("{not json"))
		s := newTestStore(t, mem)
		if err := s.LoadSnapshots(ctx); err != nil {
			t.Fatalf("LoadSnapshots() error = %v", err)
		}
		if s.HasSnapshot("w1") {
			t.Error("corrupt state should load as empty")
		}
	})
}

func TestTakeSnapshot_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	s := newTestStore(t, mem)
	w := owner{id: "w1", account: "act_1"}

	items := []ReportItem{
		{Name: "insights", RunID: "r1", FileID: "f1", RelativeURL: "/act_1/insights", TrackingURL: "/r1"},
		{Name: "ads", RunID: "r2", FileID: "f2", RelativeURL: "/act_1/ads", TrackingURL: "/r2"},
	}

	if err := s.TakeSnapshot(ctx, w, items); err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
	if err := s.TakeSnapshot(ctx, w, items); err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}

	pending := s.PendingReports("w1")
	if len(pending) != 2 {
		t.Fatalf("PendingReports() = %d items, want 2 (no duplicates)", len(pending))
	}
	for _, r := range pending {
		if r.WorkItemID != "w1" {
			t.Errorf("WorkItemID = %q, want w1", r.WorkItemID)
		}
	}

	// persisted on every call
	data, ok := mem.Bytes(blob.StatePath("meta", "snapshots.json"))
	if !ok {
		t.Fatal("snapshots were not persisted")
	}
	var persisted []Snapshot
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("persisted snapshots unparsable: %v", err)
	}
	if len(persisted) != 1 || len(persisted[0].Reports) != 2 {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestTakeSnapshot_UpdatesResubmitAndURL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, blob.NewMemoryStore())
	w := owner{id: "w1", account: "act_1"}

	s.TakeSnapshot(ctx, w, []ReportItem{{Name: "insights", RunID: "r1", FileID: "f1", TrackingURL: "/r1"}})
	s.TakeSnapshot(ctx, w, []ReportItem{{Name: "insights", RunID: "r1", FileID: "f1", TrackingURL: "/r1/v2", FailedStatusCheck: true}})

	pending := s.PendingReports("w1")
	if len(pending) != 1 {
		t.Fatalf("PendingReports() = %d, want 1", len(pending))
	}
	if !pending[0].Resubmit {
		t.Error("Resubmit should be set after a failed status check")
	}
	if pending[0].TrackingURL != "/r1/v2" {
		t.Errorf("TrackingURL = %q, want /r1/v2", pending[0].TrackingURL)
	}

	// a resubmission gets a new run id but keeps the file id
	s.TakeSnapshot(ctx, w, []ReportItem{{Name: "insights", RunID: "r9", FileID: "f1", TrackingURL: "/r9"}})
	pending = s.PendingReports("w1")
	if len(pending) != 1 || pending[0].RunID != "r9" || pending[0].Resubmit {
		t.Errorf("after resubmission pending = %+v", pending)
	}

	s.TakeSnapshot(ctx, w, []ReportItem{{Name: "insights", RunID: "r9", FileID: "f1", Downloaded: true}})
	if got := s.PendingReports("w1"); len(got) != 0 {
		t.Errorf("downloaded report still pending: %+v", got)
	}
}

func TestLoadSnapshots_PrunesExpired(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	seed(t, mem, "snapshots.json", []Snapshot{
		{WorkItemID: "old", LastModified: fixedNow.Add(-31 * 24 * time.Hour), Reports: []ReportItem{{Name: "a", RunID: "r"}}},
		{WorkItemID: "fresh", LastModified: fixedNow.Add(-29 * 24 * time.Hour), Reports: []ReportItem{{Name: "b", RunID: "r"}}},
	})

	s := newTestStore(t, mem)
	if err := s.LoadSnapshots(ctx); err != nil {
		t.Fatalf("LoadSnapshots() error = %v", err)
	}

	if s.HasSnapshot("old") {
		t.Error("snapshot older than retention should be pruned on load")
	}
	if !s.HasSnapshot("fresh") {
		t.Error("snapshot within retention should survive")
	}

	data, _ := mem.Bytes(blob.StatePath("meta", "snapshots.json"))
	if strings.Contains(string(data), `"old"`) {
		t.Error("pruned snapshot should be removed from storage")
	}
}

func TestLoadIdVault_PrunesStaleCubes(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	seed(t, mem, "idvault.json", []VaultEntry{
		{AccountID: "act_1", Cubes: []*Cube{
			{Kind: "campaign", IDs: []string{"A"}, LastUpdated: fixedNow.Add(-24 * time.Hour)},
			{Kind: "ad", IDs: []string{"X"}, LastUpdated: fixedNow.Add(-time.Hour)},
		}},
		{AccountID: "act_2", Cubes: []*Cube{
			{Kind: "campaign", IDs: []string{"B"}, LastUpdated: fixedNow.Add(-48 * time.Hour)},
		}},
	})

	s := newTestStore(t, mem)
	if err := s.LoadIdVault(ctx); err != nil {
		t.Fatalf("LoadIdVault() error = %v", err)
	}

	if got := s.VaultIDs("act_1", "", "campaign"); len(got) != 0 {
		t.Errorf("yesterday's cube should be pruned, got %v", got)
	}
	if got := s.VaultIDs("act_1", "", "ad"); len(got) != 1 || got[0] != "X" {
		t.Errorf("today's cube = %v, want [X]", got)
	}
	if got := s.VaultIDs("act_2", "", "campaign"); len(got) != 0 {
		t.Errorf("act_2 cube should be pruned, got %v", got)
	}
}

func TestGetIdsForDimensionDownload_SetDifference(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, blob.NewMemoryStore())
	w := owner{id: "w1", account: "act_1"}

	if err := s.MergeAccountIDs(ctx, "act_1", "campaign", []string{"A", "B"}); err != nil {
		t.Fatalf("MergeAccountIDs() error = %v", err)
	}
	if err := s.RecordEntityIDs(ctx, w, "campaign", []string{"A", "B", "C"}); err != nil {
		t.Fatalf("RecordEntityIDs() error = %v", err)
	}

	got, err := s.GetIdsForDimensionDownload(ctx, w, "campaign")
	if err != nil {
		t.Fatalf("GetIdsForDimensionDownload() error = %v", err)
	}
	if len(got) != 1 || got[0] != "C" {
		t.Errorf("GetIdsForDimensionDownload() = %v, want [C]", got)
	}

	vault := s.VaultIDs("act_1", "w1", "campaign")
	if strings.Join(vault, ",") != "A,B,C" {
		t.Errorf("vault = %v, want [A B C]", vault)
	}

	// second call finds nothing new
	got, _ = s.GetIdsForDimensionDownload(ctx, w, "campaign")
	if len(got) != 0 {
		t.Errorf("second call = %v, want none", got)
	}
}

func TestGetIdsForDimensionDownload_WorkItemScope(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, blob.NewMemoryStore())
	w1 := owner{id: "w1", account: "act_1"}
	w2 := owner{id: "w2", account: "act_1"}

	s.RecordEntityIDs(ctx, w1, "ad", []string{"1", "2"})
	s.RecordEntityIDs(ctx, w2, "ad", []string{"1", "2"})

	if got, _ := s.GetIdsForDimensionDownload(ctx, w1, "ad"); len(got) != 2 {
		t.Fatalf("w1 got %v, want both ids", got)
	}
	// w1's cube is scoped to w1: w2 still downloads its ids
	if got, _ := s.GetIdsForDimensionDownload(ctx, w2, "ad"); len(got) != 2 {
		t.Errorf("w2 got %v, want both ids", got)
	}
	if got := s.VaultIDs("act_1", "", "ad"); len(got) != 0 {
		t.Errorf("account-wide cube = %v, want empty", got)
	}
}

func TestDiscardWorkItemCubes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, blob.NewMemoryStore())
	w := owner{id: "w1", account: "act_1"}

	s.MergeAccountIDs(ctx, "act_1", "ad", []string{"A"})
	s.RecordEntityIDs(ctx, w, "ad", []string{"A", "B"})
	s.GetIdsForDimensionDownload(ctx, w, "ad")

	if err := s.DiscardWorkItemCubes(ctx, w); err != nil {
		t.Fatalf("DiscardWorkItemCubes() error = %v", err)
	}

	got, _ := s.GetIdsForDimensionDownload(ctx, w, "ad")
	if len(got) != 1 || got[0] != "B" {
		t.Errorf("after discard = %v, want [B]", got)
	}
}

func TestDiscardWorkItemCubes_ByKind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, blob.NewMemoryStore())
	w := owner{id: "w1", account: "act_1"}

	s.RecordEntityIDs(ctx, w, "campaign", []string{"C1"})
	s.RecordEntityIDs(ctx, w, "ad", []string{"A1"})
	s.GetIdsForDimensionDownload(ctx, w, "campaign")
	s.GetIdsForDimensionDownload(ctx, w, "ad")

	if err := s.DiscardWorkItemCubes(ctx, w, "ad"); err != nil {
		t.Fatalf("DiscardWorkItemCubes() error = %v", err)
	}

	if got := s.VaultIDs("act_1", "w1", "campaign"); len(got) != 1 {
		t.Errorf("campaign ids = %v, want [C1] kept", got)
	}
	if got := s.VaultIDs("act_1", "w1", "ad"); len(got) != 0 {
		t.Errorf("ad ids = %v, want none", got)
	}
}

func TestClearSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	s := newTestStore(t, mem)
	w := owner{id: "w1", account: "act_1"}

	s.TakeSnapshot(ctx, w, []ReportItem{{Name: "a"}})
	if err := s.ClearSnapshot(ctx, "w1"); err != nil {
		t.Fatalf("ClearSnapshot() error = %v", err)
	}
	if s.HasSnapshot("w1") {
		t.Error("snapshot should be gone")
	}

	reloaded := newTestStore(t, mem)
	reloaded.LoadSnapshots(ctx)
	if reloaded.HasSnapshot("w1") {
		t.Error("cleared snapshot should not survive a reload")
	}
}

func TestUnion(t *testing.T) {
	got := union([]string{"a", "b"}, []string{"b", "c", "a", "d"})
	if strings.Join(got, ",") != "a,b,c,d" {
		t.Errorf("union() = %v", got)
	}
}
