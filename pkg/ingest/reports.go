package ingest

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/Sternrassler/adfetch/pkg/fetchstate"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// newReports creates the report items of a fresh work item from the
// configured report specs.
func newReports(cfg VendorConfig, item WorkItem) []*fetchstate.ReportItem {
	reports := make([]*fetchstate.ReportItem, len(cfg.Reports))
	for i, spec := range cfg.Reports {
		reports[i] = &fetchstate.ReportItem{
			Name:        spec.Name,
			Type:        spec.Type,
			WorkItemID:  item.ID(),
			FileID:      uuid.NewString(),
			RelativeURL: expand(spec.Path, item),
		}
	}
	return reports
}

// resumedReports turns the pending snapshot items into report pointers.
func resumedReports(pending []fetchstate.ReportItem) []*fetchstate.ReportItem {
	reports := make([]*fetchstate.ReportItem, len(pending))
	for i := range pending {
		r := pending[i]
		reports[i] = &r
	}
	return reports
}

func values(reports []*fetchstate.ReportItem) []fetchstate.ReportItem {
	out := make([]fetchstate.ReportItem, len(reports))
	for i, r := range reports {
		out[i] = *r
	}
	return out
}

func specFor(cfg VendorConfig, name string) ReportSpec {
	for _, s := range cfg.Reports {
		if s.Name == name {
			return s
		}
	}
	return ReportSpec{Name: name}
}

// reportRequest builds the originating request of a report.
func reportRequest(cfg VendorConfig, r *fetchstate.ReportItem, defaultMethod string) *client.Request {
	spec := specFor(cfg, r.Name)
	req := &client.Request{
		ID:     r.Name,
		Method: spec.Method,
		URL:    r.RelativeURL,
		Token:  cfg.Token,
		Report: r,
	}
	if req.Method == "" {
		req.Method = defaultMethod
	}
	if spec.Body != "" {
		req.Body = []byte(spec.Body)
	}
	return req
}

func pageFileName(req *client.Request) string {
	return fmt.Sprintf("%s_%s_p%04d.json", req.Report.Name, req.Report.FileID, req.PageIndex)
}

func getRequest(cfg VendorConfig, r *fetchstate.ReportItem, url string) *client.Request {
	return &client.Request{ID: r.Name, Method: http.MethodGet, URL: url, Token: cfg.Token, Report: r}
}

// idCollector gathers dimension ids referenced by report pages.
type idCollector struct {
	dims []DimensionSpec

	mu  sync.Mutex
	ids map[string][]string
}

func newIDCollector(dims []DimensionSpec) *idCollector {
	return &idCollector{dims: dims, ids: make(map[string][]string)}
}

func (c *idCollector) extract(report string, payload []byte) {
	for _, d := range c.dims {
		if d.Report != "" && d.Report != report {
			continue
		}
		var found []string
		for _, v := range gjson.GetBytes(payload, d.IDPath).Array() {
			if s := v.String(); s != "" {
				found = append(found, s)
			}
		}
		if len(found) == 0 {
			continue
		}
		c.mu.Lock()
		c.ids[d.Kind] = append(c.ids[d.Kind], found...)
		c.mu.Unlock()
	}
}

// drain returns and forgets the ids gathered so far.
func (c *idCollector) drain() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.ids
	c.ids = make(map[string][]string)
	return out
}

func batchIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = 50
	}
	var batches [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// errorList is a concurrency-safe list of hook failures.
type errorList struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorList) add(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorList) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}
