package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Sternrassler/adfetch/internal/testutil"
	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/ratelimit"
	"github.com/rs/zerolog"
)

func pagingConfig() VendorConfig {
	return VendorConfig{
		Name:                   "mock",
		Token:                  "secret",
		MaxDegreeOfParallelism: 2,
		Reports: []ReportSpec{
			{Name: "insights", Path: "/{account}/insights"},
		},
		NextPagePath: "paging.next",
		Dimensions: []DimensionSpec{
			{Kind: "campaign", IDPath: "data.#.campaign_id", Path: "/campaigns?ids={ids}", BatchSize: 2},
		},
	}
}

func newPagingOrchestrator(t *testing.T, cfg VendorConfig, mock *testutil.MockVendor, mem *blob.MemoryStore) (*Orchestrator, *PagingWorkflow) {
	t.Helper()

	state := newState(t, mem)
	wf, err := NewPagingWorkflow(cfg, newVendorClient(t, mock.URL()), state, mem, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPagingWorkflow() error = %v", err)
	}
	return NewOrchestrator(cfg, wf, state, mem, nil, zerolog.Nop()), wf
}

func TestNewPagingWorkflow_Validation(t *testing.T) {
	mem := blob.NewMemoryStore()
	cfg := pagingConfig()
	cfg.NextPagePath = ""

	if _, err := NewPagingWorkflow(cfg, nil, newState(t, mem), mem, zerolog.Nop()); err == nil {
		t.Error("expected error without next page path")
	}
}

func TestPagingWorkflow_FetchesPagesAndDimensions(t *testing.T) {
	mock := testutil.NewMockVendor()
	defer mock.Close()
	mock.SetPagedResponse("/act_1/insights", []string{
		`[{"campaign_id":"c1"},{"campaign_id":"c2"}]`,
		`[{"campaign_id":"c3"}]`,
	})

	var mu sync.Mutex
	var requestedIDs []string
	mock.SetHandler("/campaigns", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestedIDs = append(requestedIDs, r.URL.Query().Get("ids"))
		mu.Unlock()
		fmt.Fprint(w, `{"data":[{"id":"x"}]}`)
	})

	mem := blob.NewMemoryStore()
	o, wf := newPagingOrchestrator(t, pagingConfig(), mock, mem)

	// c1 was downloaded account-wide earlier today
	if err := wf.state.MergeAccountIDs(context.Background(), "act_1", "campaign", []string{"c1"}); err != nil {
		t.Fatal(err)
	}

	item := testItem("w1", "act_1")
	if err := runItems(t, o, item); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if item.Status() != StatusComplete {
		t.Errorf("Status = %s, want complete", item.Status())
	}
	if got := mock.GetPathCount("/act_1/insights"); got != 2 {
		t.Errorf("insights requests = %d, want 2 pages", got)
	}
	if len(requestedIDs) != 1 || requestedIDs[0] != "c2,c3" {
		t.Errorf("dimension requests = %v, want [c2,c3]", requestedIDs)
	}
	if mock.GetLastRequestHeader().Get("Authorization") != "Bearer secret" {
		t.Error("requests should carry the vendor token")
	}

	m := readTestManifest(t, mem, item, ManifestFile)
	if m == nil {
		t.Fatal("manifest.json not written")
	}
	if len(m.Entries) != 3 {
		t.Errorf("manifest entries = %d, want 3 (2 pages + 1 dimension batch)", len(m.Entries))
	}
	for _, e := range m.Entries {
		data, ok := mem.Bytes(e.FilePath)
		if !ok {
			t.Errorf("manifest references missing file %s", e.FilePath)
			continue
		}
		if int64(len(data)) != e.FileSize {
			t.Errorf("%s size = %d, manifest says %d", e.FilePath, len(data), e.FileSize)
		}
		if !strings.HasPrefix(e.FilePath, "act_1/2026-10-18/") {
			t.Errorf("unexpected file path %s", e.FilePath)
		}
	}

	if wf.state.HasSnapshot("w1") {
		t.Error("snapshot should be cleared after completion")
	}
}

func TestPagingWorkflow_ResumesAfterFailure(t *testing.T) {
	mock := testutil.NewMockVendor()
	defer mock.Close()

	var failSecondPage atomic.Bool
	failSecondPage.Store(true)
	mock.SetHandler("/act_1/insights", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "1" {
			if failSecondPage.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"data":[{"campaign_id":"c2"}]}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"campaign_id":"c1"}],"paging":{"next":"1"}}`)
	})

	mem := blob.NewMemoryStore()
	cfg := pagingConfig()
	cfg.Dimensions = nil
	o, wf := newPagingOrchestrator(t, cfg, mock, mem)
	item := testItem("w1", "act_1")

	err := runItems(t, o, item)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Expected *RunError, got %v", err)
	}
	if item.Status() != StatusError {
		t.Errorf("Status = %s, want error", item.Status())
	}

	pending := wf.state.PendingReports("w1")
	if len(pending) != 1 || !pending[0].FailedDownload || !pending[0].Resubmit {
		t.Fatalf("pending after failure = %+v", pending)
	}
	if partial := readTestManifest(t, mem, item, PartialManifestFile); partial == nil || len(partial.Entries) != 1 {
		t.Fatalf("partial manifest = %+v, want the first page", partial)
	}

	failSecondPage.Store(false)
	if err := runItems(t, o, item); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	m := readTestManifest(t, mem, item, ManifestFile)
	if m == nil || len(m.Entries) != 2 {
		t.Fatalf("manifest = %+v, want 2 entries", m)
	}
	if readTestManifest(t, mem, item, PartialManifestFile) != nil {
		t.Error("partial manifest should be removed after completion")
	}
}

func TestPagingWorkflow_RerunSkipsCompletedDimensionKinds(t *testing.T) {
	mock := testutil.NewMockVendor()
	defer mock.Close()
	mock.SetPagedResponse("/act_1/insights", []string{
		`[{"campaign_id":"c1","ad_id":"a1"},{"campaign_id":"c2","ad_id":"a2"}]`,
	})

	var campaignCalls, adCalls atomic.Int32
	mock.SetHandler("/campaigns", func(w http.ResponseWriter, r *http.Request) {
		campaignCalls.Add(1)
		fmt.Fprint(w, `{"data":[]}`)
	})
	var adsBroken atomic.Bool
	adsBroken.Store(true)
	mock.SetHandler("/ads", func(w http.ResponseWriter, r *http.Request) {
		adCalls.Add(1)
		if adsBroken.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})

	mem := blob.NewMemoryStore()
	cfg := pagingConfig()
	cfg.Dimensions = []DimensionSpec{
		{Kind: "campaign", IDPath: "data.#.campaign_id", Path: "/campaigns?ids={ids}"},
		{Kind: "ad", IDPath: "data.#.ad_id", Path: "/ads?ids={ids}"},
	}
	o, wf := newPagingOrchestrator(t, cfg, mock, mem)
	item := testItem("w1", "act_1")

	if err := runItems(t, o, item); err == nil {
		t.Fatal("expected first run to fail on the ad dimension")
	}
	if got := wf.state.VaultIDs("act_1", "", "campaign"); len(got) != 2 {
		t.Errorf("account-wide campaign ids = %v, want [c1 c2]", got)
	}
	if got := wf.state.VaultIDs("act_1", "w1", "ad"); len(got) != 0 {
		t.Errorf("ad ids after failure = %v, want none", got)
	}

	adsBroken.Store(false)
	if err := runItems(t, o, item); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if got := campaignCalls.Load(); got != 1 {
		t.Errorf("campaign requests = %d, want 1 (completed kind is not fetched again)", got)
	}
	if got := adCalls.Load(); got != 2 {
		t.Errorf("ad requests = %d, want 2", got)
	}
	if got := mock.GetPathCount("/act_1/insights"); got != 1 {
		t.Errorf("insights requests = %d, want 1", got)
	}
}

func TestPagingWorkflow_MaxRuntimeHalts(t *testing.T) {
	mock := testutil.NewMockVendor()
	defer mock.Close()

	mem := blob.NewMemoryStore()
	cfg := pagingConfig()
	cfg.MaxRuntime = 1 // exceeded before the first batch
	o, _ := newPagingOrchestrator(t, cfg, mock, mem)

	err := runItems(t, o, testItem("w1", "act_1"))
	if !errors.Is(err, ratelimit.ErrHalted) {
		t.Errorf("Expected ErrHalted, got %v", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want none after the runtime is exceeded", mock.GetRequestCount())
	}
}

func TestBatchIDs(t *testing.T) {
	tests := []struct {
		ids  []string
		size int
		want int
	}{
		{[]string{"a", "b", "c"}, 2, 2},
		{[]string{"a", "b"}, 2, 1},
		{nil, 2, 0},
		{make([]string, 120), 0, 3},
	}
	for _, tt := range tests {
		if got := batchIDs(tt.ids, tt.size); len(got) != tt.want {
			t.Errorf("batchIDs(%d ids, %d) = %d batches, want %d", len(tt.ids), tt.size, len(got), tt.want)
		}
	}
}

func TestIDCollector(t *testing.T) {
	c := newIDCollector([]DimensionSpec{
		{Kind: "campaign", IDPath: "data.#.campaign_id"},
		{Kind: "ad", IDPath: "data.#.ad_id", Report: "ads"},
	})

	c.extract("insights", []byte(`{"data":[{"campaign_id":"1","ad_id":"9"},{"campaign_id":"2"}]}`))
	c.extract("ads", []byte(`{"data":[{"ad_id":"7"}]}`))

	got := c.drain()
	if strings.Join(got["campaign"], ",") != "1,2" {
		t.Errorf("campaign ids = %v", got["campaign"])
	}
	if strings.Join(got["ad"], ",") != "7" {
		t.Errorf("ad ids = %v, want only ids from the ads report", got["ad"])
	}
	if len(c.drain()) != 0 {
		t.Error("drain should reset the collector")
	}
}
