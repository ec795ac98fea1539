// Package fetchstate persists the resumable state of a vendor fetch: the
// Snapshot of pending report items per work item and the Id Vault of
// dimension ids already downloaded per account and processing day.
//
// State is loaded once per run, pruned immediately after loading, mutated by
// a single orchestrator and written back to blob storage after every change.
package fetchstate

// ReportItem is one logical vendor report of a work item.
type ReportItem struct {
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	WorkItemID string `json:"work_item_id"`

	// FileID correlates the report's output files across resubmissions.
	FileID string `json:"file_id"`

	// RunID is the vendor-assigned id of an asynchronous report run.
	RunID string `json:"run_id,omitempty"`

	// RelativeURL is the originating request, kept to resubmit identically.
	RelativeURL string `json:"relative_url"`

	// TrackingURL is where the run's status is polled or its result fetched.
	TrackingURL string `json:"tracking_url,omitempty"`

	Ready             bool `json:"ready"`
	Downloaded        bool `json:"downloaded"`
	FailedDownload    bool `json:"failed_download"`
	FailedStatusCheck bool `json:"failed_status_check"`
	Resubmit          bool `json:"resubmit"`
}

// Failed reports whether the most recent attempt on the item failed.
func (r ReportItem) Failed() bool {
	return r.FailedDownload || r.FailedStatusCheck
}

// sameReport matches items by run id and name. A resubmitted run keeps its
// FileID, so a matching FileID also identifies the same report.
func sameReport(a, b ReportItem) bool {
	if a.Name != b.Name {
		return false
	}
	if a.RunID == b.RunID {
		return true
	}
	return a.FileID != "" && a.FileID == b.FileID
}
