package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr bool
	}{
		{"valid", Item{ItemID: "w1", Account: "act_1", Date: "2026-10-18"}, false},
		{"missing id", Item{Account: "act_1", Date: "2026-10-18"}, true},
		{"missing account", Item{ItemID: "w1", Date: "2026-10-18"}, true},
		{"bad date", Item{ItemID: "w1", Account: "act_1", Date: "18.10.2026"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.item.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestItem_Accessors(t *testing.T) {
	item := &Item{ItemID: "w1", Account: "act_1", Date: "2026-10-18", IsBackfill: true}

	if !item.TargetDate().Equal(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TargetDate() = %v", item.TargetDate())
	}
	if item.Status() != StatusPending {
		t.Errorf("Status() = %s, want pending", item.Status())
	}
	if !item.Backfill() {
		t.Error("Backfill() = false")
	}
}

func TestLogReporter_UpdatesItem(t *testing.T) {
	item := testItem("w1", "act_1")
	r := LogReporter{Logger: zerolog.Nop()}

	if err := r.ReportStatus(context.Background(), item, StatusError, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	if item.Status() != StatusError {
		t.Errorf("Status() = %s, want error", item.Status())
	}
}

func TestExpand(t *testing.T) {
	item := testItem("w1", "act_1")
	got := expand("/{account}/insights?date={date}&ref={work_item}&ids={ids}", item, "{ids}", "1,2")
	want := "/act_1/insights?date=2026-10-18&ref=w1&ids=1,2"
	if got != want {
		t.Errorf("expand() = %q, want %q", got, want)
	}
}

func TestVendorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*VendorConfig)
		wantErr bool
	}{
		{"valid", func(*VendorConfig) {}, false},
		{"no name", func(c *VendorConfig) { c.Name = "" }, true},
		{"no reports", func(c *VendorConfig) { c.Reports = nil }, true},
		{"report without path", func(c *VendorConfig) { c.Reports[0].Path = "" }, true},
		{"dimension without id path", func(c *VendorConfig) { c.Dimensions[0].IDPath = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := pagingConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManifest_Merge(t *testing.T) {
	m := &Manifest{Entries: []ManifestEntry{
		{SourceFileName: "a", FilePath: "x/a", FileSize: 1},
	}}
	m.Merge([]ManifestEntry{
		{SourceFileName: "a", FilePath: "x/a", FileSize: 5},
		{SourceFileName: "b", FilePath: "x/b", FileSize: 2},
	})

	if len(m.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(m.Entries))
	}
	if m.Entries[0].FileSize != 5 {
		t.Errorf("rewritten file size = %d, want 5", m.Entries[0].FileSize)
	}
}

func TestRunError_Unwrap(t *testing.T) {
	boom := errors.New("boom")
	err := &RunError{Total: 2, Failures: []ItemFailure{{WorkItemID: "w1", Err: boom}}}

	if !errors.Is(err, boom) {
		t.Error("errors.Is should find item failures")
	}
}
