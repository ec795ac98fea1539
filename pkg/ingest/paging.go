package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/Sternrassler/adfetch/pkg/fetchstate"
	"github.com/Sternrassler/adfetch/pkg/parallel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PagingWorkflow fetches cursor-paginated reports page by page, writes every
// page to its own file and then downloads the dimensions the pages reference.
type PagingWorkflow struct {
	cfg      VendorConfig
	caller   *parallel.Caller
	nextPage parallel.PagingFunc
	state    *fetchstate.Store
	blobs    blob.Store
	logger   zerolog.Logger
}

// NewPagingWorkflow creates a paging workflow.
func NewPagingWorkflow(cfg VendorConfig, doer parallel.Doer, state *fetchstate.Store, blobs blob.Store, logger zerolog.Logger) (*PagingWorkflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NextPagePath == "" {
		return nil, errors.New("next page path is required")
	}
	return &PagingWorkflow{
		cfg:      cfg,
		caller:   parallel.New(doer, logger),
		nextPage: parallel.NextPageFromJSON(cfg.NextPagePath),
		state:    state,
		blobs:    blobs,
		logger:   logger.With().Str("component", "paging-workflow").Logger(),
	}, nil
}

// Name implements Workflow.
func (w *PagingWorkflow) Name() string { return "paging" }

// Fetch implements Workflow. A work item with a snapshot only refetches the
// reports that were not completely downloaded.
func (w *PagingWorkflow) Fetch(ctx context.Context, job Job) ([]ManifestEntry, error) {
	item := job.Item
	files := newFileWriter(w.blobs, item, w.cfg.Name)

	var reports []*fetchstate.ReportItem
	if w.state.HasSnapshot(item.ID()) {
		reports = resumedReports(w.state.PendingReports(item.ID()))
		job.Logger.Info().Int("pending_reports", len(reports)).Msg("Resuming work item from snapshot")
	} else {
		reports = newReports(w.cfg, item)
	}

	if len(reports) > 0 {
		if err := w.state.TakeSnapshot(ctx, item, values(reports)); err != nil {
			return nil, err
		}
		if err := w.fetchReports(ctx, job, reports, files); err != nil {
			return files.Entries(), err
		}
	}

	if err := w.fetchDimensions(ctx, job, files); err != nil {
		return files.Entries(), err
	}
	return files.Entries(), nil
}

func (w *PagingWorkflow) fetchReports(ctx context.Context, job Job, reports []*fetchstate.ReportItem, files *fileWriter) error {
	item := job.Item
	ids := newIDCollector(w.cfg.Dimensions)
	var hookErrs errorList

	requests := make([]*client.Request, len(reports))
	for i, r := range reports {
		r.FailedDownload = false
		requests[i] = reportRequest(w.cfg, r, http.MethodGet)
	}

	// persist runs once a chunk has settled; no request goroutine is running.
	persist := func() {
		for kind, list := range ids.drain() {
			if err := w.state.RecordEntityIDs(ctx, item, kind, list); err != nil {
				hookErrs.add(err)
			}
		}
		if err := w.state.TakeSnapshot(ctx, item, values(reports)); err != nil {
			hookErrs.add(err)
		}
	}

	opts := baseOptions(w.cfg, job)
	opts.Paging = w.nextPage
	opts.PerItem = func(req *client.Request, resp *client.Response) {
		if _, err := files.write(ctx, pageFileName(req), bytes.NewReader(resp.Payload)); err != nil {
			req.Report.FailedDownload = true
			hookErrs.add(err)
			return
		}
		ids.extract(req.Report.Name, resp.Payload)
		if w.nextPage(req, resp) == nil && !req.Report.FailedDownload {
			req.Report.Downloaded = true
		}
	}
	opts.OnException = func(req *client.Request, _ error) {
		req.Report.FailedDownload = true
	}
	opts.OnResults = func([]*client.Response) { persist() }

	res, err := w.caller.MakeParallelCallsWithPaging(ctx, requests, opts)
	persist()

	job.Logger.Info().
		Int("reports", len(reports)).
		Int("pages", len(res.Responses)).
		Msg("Report pages fetched")

	return errors.Join(append([]error{err}, hookErrs.all()...)...)
}

// fetchDimensions downloads, in id batches, the dimension ids not yet
// downloaded today. A completed kind is recorded account-wide; a failed kind
// has its cube discarded.
func (w *PagingWorkflow) fetchDimensions(ctx context.Context, job Job, files *fileWriter) error {
	item := job.Item
	for _, dim := range w.cfg.Dimensions {
		ids, err := w.state.GetIdsForDimensionDownload(ctx, item, dim.Kind)
		if err != nil {
			return fmt.Errorf("dimension %s: %w", dim.Kind, err)
		}
		if len(ids) == 0 {
			job.Logger.Debug().Str("kind", dim.Kind).Msg("No new dimension ids")
			continue
		}

		fileID := uuid.NewString()
		var requests []*client.Request
		for i, batch := range batchIDs(ids, dim.BatchSize) {
			r := &fetchstate.ReportItem{
				Name:       dim.Kind,
				Type:       "dimension",
				WorkItemID: item.ID(),
				FileID:     fmt.Sprintf("%s-b%03d", fileID, i),
			}
			r.RelativeURL = expand(dim.Path, item, "{ids}", strings.Join(batch, ","))
			requests = append(requests, getRequest(w.cfg, r, r.RelativeURL))
		}

		var hookErrs errorList
		opts := baseOptions(w.cfg, job)
		opts.Paging = w.nextPage
		opts.PerItem = func(req *client.Request, resp *client.Response) {
			if _, err := files.write(ctx, pageFileName(req), bytes.NewReader(resp.Payload)); err != nil {
				hookErrs.add(err)
			}
		}

		_, err = w.caller.MakeParallelCallsWithPaging(ctx, requests, opts)
		if err == nil {
			err = errors.Join(hookErrs.all()...)
		}
		if err != nil {
			// kinds finished earlier keep their cubes; only this one is fetched again
			if derr := w.state.DiscardWorkItemCubes(context.WithoutCancel(ctx), item, dim.Kind); derr != nil {
				job.Logger.Warn().Err(derr).Str("kind", dim.Kind).Msg("Failed to discard id cube")
			}
			return fmt.Errorf("dimension %s: %w", dim.Kind, err)
		}
		if err := w.state.MergeAccountIDs(ctx, item.AccountID(), dim.Kind, ids); err != nil {
			return fmt.Errorf("dimension %s: %w", dim.Kind, err)
		}

		job.Logger.Info().
			Str("kind", dim.Kind).
			Int("ids", len(ids)).
			Int("batches", len(requests)).
			Msg("Dimensions downloaded")
	}
	return nil
}
