package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/adfetch/internal/testutil"
	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/budget"
	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/rs/zerolog"
)

// recordingReporter records status transitions per work item.
type recordingReporter struct {
	mu          sync.Mutex
	transitions map[string][]Status
}

func (r *recordingReporter) ReportStatus(_ context.Context, item WorkItem, status Status, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitions == nil {
		r.transitions = make(map[string][]Status)
	}
	r.transitions[item.ID()] = append(r.transitions[item.ID()], status)
	return nil
}

// stubWorkflow fails the work items listed in fail.
type stubWorkflow struct {
	fail    map[string]bool
	budgets []*budget.Budget
}

func (s *stubWorkflow) Name() string { return "stub" }

func (s *stubWorkflow) Fetch(ctx context.Context, job Job) ([]ManifestEntry, error) {
	s.budgets = append(s.budgets, budget.FromContext(ctx))
	if s.fail[job.Item.ID()] {
		return []ManifestEntry{{SourceFileName: "partial.json", FilePath: "p/partial.json", FileSize: 1}}, errors.New("vendor down")
	}
	return []ManifestEntry{{SourceFileName: "ok.json", FilePath: "p/ok.json", FileSize: 2}}, nil
}

func TestOrchestrator_IsolatesFailures(t *testing.T) {
	mem := blob.NewMemoryStore()
	cfg := VendorConfig{Name: "mock", MaxRuntime: 1 << 40}
	wf := &stubWorkflow{fail: map[string]bool{"w2": true}}
	reporter := &recordingReporter{}
	o := NewOrchestrator(cfg, wf, newState(t, mem), mem, reporter, zerolog.Nop())

	w1, w2, w3 := testItem("w1", "act_1"), testItem("w2", "act_2"), testItem("w3", "act_3")
	err := runItems(t, o, w1, w2, w3)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Expected *RunError, got %v", err)
	}
	if runErr.Total != 3 || len(runErr.Failures) != 1 || runErr.Failures[0].WorkItemID != "w2" {
		t.Errorf("RunError = %+v", runErr)
	}
	if !strings.Contains(err.Error(), "1 of 3 work items failed") {
		t.Errorf("Error() = %q", err.Error())
	}

	want := map[string]string{
		"w1": "running,complete",
		"w2": "running,error",
		"w3": "running,complete",
	}
	for id, seq := range want {
		var got []string
		for _, s := range reporter.transitions[id] {
			got = append(got, string(s))
		}
		if strings.Join(got, ",") != seq {
			t.Errorf("%s transitions = %v, want %s", id, got, seq)
		}
	}

	if readTestManifest(t, mem, w1, ManifestFile) == nil {
		t.Error("w1 manifest missing")
	}
	if readTestManifest(t, mem, w2, ManifestFile) != nil {
		t.Error("failed item must not get a manifest")
	}
	if partial := readTestManifest(t, mem, w2, PartialManifestFile); partial == nil || len(partial.Entries) != 1 {
		t.Errorf("w2 partial manifest = %+v", partial)
	}

	for i, b := range wf.budgets {
		if b == nil || b.Max() != cfg.MaxRuntime {
			t.Errorf("item %d budget = %v, want one started from MaxRuntime", i, b)
		}
	}
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	mem := blob.NewMemoryStore()
	wf := &stubWorkflow{}
	o := NewOrchestrator(VendorConfig{Name: "mock"}, wf, newState(t, mem), mem, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := testItem("w1", "act_1")
	err := o.Run(ctx, []WorkItem{item})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(wf.budgets) != 0 {
		t.Error("workflow should not run with a cancelled context")
	}
	if item.Status() != StatusError {
		t.Errorf("Status = %s, want error", item.Status())
	}
}

func TestOrchestrator_VendorClientErrorIsolated(t *testing.T) {
	mock := testutil.NewMockVendor()
	defer mock.Close()
	mock.SetPagedResponse("/act_1/insights", []string{`[]`})
	mock.SetResponse("/act_bad/insights", testutil.NewClientErrorResponse())

	mem := blob.NewMemoryStore()
	cfg := pagingConfig()
	cfg.Dimensions = nil
	o, _ := newPagingOrchestrator(t, cfg, mock, mem)

	good, bad := testItem("w1", "act_1"), testItem("w2", "act_bad")
	err := runItems(t, o, bad, good)

	var vendorErr *client.VendorError
	if !errors.As(err, &vendorErr) || vendorErr.StatusCode != 400 {
		t.Fatalf("Expected the vendor 400 in the run error, got %v", err)
	}
	if mock.GetPathCount("/act_bad/insights") != 1 {
		t.Errorf("client errors should not be retried, got %d requests", mock.GetPathCount("/act_bad/insights"))
	}
	if good.Status() != StatusComplete || bad.Status() != StatusError {
		t.Errorf("statuses = %s/%s, want complete/error", good.Status(), bad.Status())
	}
}
