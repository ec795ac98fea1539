package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/adfetch/pkg/backoff"
)

// VendorConfig describes how to fetch from one vendor.
type VendorConfig struct {
	// Name labels logs, metrics and state paths.
	Name string `json:"-"`

	// Token is the opaque bearer token sent with every request.
	Token string `json:"-"`

	MaxDegreeOfParallelism int           `json:"-"`
	PermittedPerWindow     int           `json:"-"`
	Window                 time.Duration `json:"-"`

	// MaxRuntime is the wall-clock budget of one work item. 0 means unlimited.
	MaxRuntime time.Duration `json:"-"`

	Reports []ReportSpec `json:"reports"`

	// NextPagePath is the gjson path of the next-page token or URL.
	NextPagePath string `json:"next_page_path"`

	Dimensions []DimensionSpec `json:"dimensions,omitempty"`

	Async AsyncConfig `json:"async"`
}

// ReportSpec is one report fetched for every work item. Path may use the
// placeholders {account}, {date} and {work_item}.
type ReportSpec struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Method string `json:"method,omitempty"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`
}

// DimensionSpec describes a dimension whose ids are referenced by report rows
// and downloaded separately. Path may use {ids} and the report placeholders.
type DimensionSpec struct {
	Kind string `json:"kind"`

	// IDPath is the gjson path of the ids in a report page, e.g. "data.#.campaign_id".
	IDPath string `json:"id_path"`

	// Report limits extraction to the pages of one report. Empty means all.
	Report string `json:"report,omitempty"`

	Path      string `json:"path"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// AsyncConfig describes an asynchronous report API: submit a run, poll its
// status, download the result.
type AsyncConfig struct {
	// RunIDPath is the gjson path of the run id in the submit response.
	RunIDPath string `json:"run_id_path"`

	// StatusURL is polled for the run status. Uses {run_id}.
	StatusURL  string `json:"status_url"`
	StatusPath string `json:"status_path"`

	ReadyValues  []string `json:"ready_values"`
	FailedValues []string `json:"failed_values,omitempty"`

	// DownloadURLPath is the gjson path of the result URL in a ready status
	// response. When empty DownloadURL (with {run_id}) is used.
	DownloadURLPath string `json:"download_url_path,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`

	// Poll is the conditional retry policy applied while a run is not ready.
	Poll backoff.Policy `json:"-"`

	FileExtension string `json:"file_extension,omitempty"`
}

// Validate checks the settings every workflow depends on.
func (c *VendorConfig) Validate() error {
	if c.Name == "" {
		return errors.New("vendor name is required")
	}
	if len(c.Reports) == 0 {
		return errors.New("at least one report is required")
	}
	for i, r := range c.Reports {
		if r.Name == "" || r.Path == "" {
			return fmt.Errorf("report %d: name and path are required", i)
		}
	}
	for i, d := range c.Dimensions {
		if d.Kind == "" || d.IDPath == "" || d.Path == "" {
			return fmt.Errorf("dimension %d: kind, id_path and path are required", i)
		}
	}
	return nil
}

func (c *VendorConfig) validateAsync() error {
	a := c.Async
	if a.RunIDPath == "" || a.StatusURL == "" || a.StatusPath == "" {
		return errors.New("async: run_id_path, status_url and status_path are required")
	}
	if len(a.ReadyValues) == 0 {
		return errors.New("async: at least one ready value is required")
	}
	if a.DownloadURLPath == "" && a.DownloadURL == "" {
		return errors.New("async: download_url_path or download_url is required")
	}
	return nil
}

// expand substitutes the work item placeholders in tmpl. extra holds further
// old/new pairs.
func expand(tmpl string, item WorkItem, extra ...string) string {
	pairs := append([]string{
		"{account}", item.AccountID(),
		"{date}", item.TargetDate().Format(DateLayout),
		"{work_item}", item.ID(),
	}, extra...)
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
