package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/Sternrassler/adfetch/pkg/backoff"
	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/budget"
	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/Sternrassler/adfetch/pkg/fetchstate"
	"github.com/Sternrassler/adfetch/pkg/parallel"
	"github.com/Sternrassler/adfetch/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// ErrRunFailed is recorded when the vendor reports a report run as failed.
var ErrRunFailed = errors.New("report run failed")

// DefaultPollPolicy is used when AsyncConfig.Poll is unset.
func DefaultPollPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts:     30,
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      1.5,
		Jitter:          0.1,
	}
}

// AsyncReportWorkflow submits asynchronous report runs, polls them until the
// vendor settles them and streams the results to blob storage. The snapshot
// is taken after every batch; a resumed work item polls its pending run ids
// and resubmits the runs that failed.
type AsyncReportWorkflow struct {
	cfg    VendorConfig
	caller *parallel.Caller
	poller *parallel.Caller
	state  *fetchstate.Store
	blobs  blob.Store
	logger zerolog.Logger
}

// NewAsyncReportWorkflow creates an async report workflow.
func NewAsyncReportWorkflow(cfg VendorConfig, doer parallel.Doer, state *fetchstate.Store, blobs blob.Store, logger zerolog.Logger) (*AsyncReportWorkflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.validateAsync(); err != nil {
		return nil, err
	}
	if cfg.Async.Poll.MaxAttempts <= 0 {
		cfg.Async.Poll = DefaultPollPolicy()
	}
	if cfg.Async.FileExtension == "" {
		cfg.Async.FileExtension = "csv"
	}

	logger = logger.With().Str("component", "async-workflow").Logger()
	w := &AsyncReportWorkflow{
		cfg:    cfg,
		caller: parallel.New(doer, logger),
		state:  state,
		blobs:  blobs,
		logger: logger,
	}
	w.poller = parallel.New(&pollingDoer{
		inner:  doer,
		name:   cfg.Name + "-poll",
		policy: cfg.Async.Poll,
		accept: w.settled,
		logger: logger,
	}, logger)
	return w, nil
}

// Name implements Workflow.
func (w *AsyncReportWorkflow) Name() string { return "async" }

// Fetch implements Workflow. Submission, polling and download run in turn,
// each on the reports that qualify; the errors of all phases are returned
// together so that ready reports are still downloaded when others failed.
func (w *AsyncReportWorkflow) Fetch(ctx context.Context, job Job) ([]ManifestEntry, error) {
	item := job.Item
	files := newFileWriter(w.blobs, item, w.cfg.Name)

	var reports []*fetchstate.ReportItem
	if w.state.HasSnapshot(item.ID()) {
		reports = resumedReports(w.state.PendingReports(item.ID()))
		job.Logger.Info().Int("pending_reports", len(reports)).Msg("Resuming work item from snapshot")
	} else {
		reports = newReports(w.cfg, item)
	}
	if len(reports) == 0 {
		return nil, nil
	}

	if err := w.state.TakeSnapshot(ctx, item, values(reports)); err != nil {
		return nil, err
	}

	var errs []error
	for _, phase := range []func(context.Context, Job, []*fetchstate.ReportItem, *fileWriter) error{
		w.submit,
		w.poll,
		w.download,
	} {
		if err := phase(ctx, job, reports, files); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return files.Entries(), errors.Join(errs...)
}

// runPhase executes the requests of one phase and snapshots the reports after
// every batch and once more at the end.
func (w *AsyncReportWorkflow) runPhase(ctx context.Context, job Job, caller *parallel.Caller, reports []*fetchstate.ReportItem, requests []*client.Request, opts parallel.Options, hookErrs *errorList) error {
	if len(requests) == 0 {
		return nil
	}
	persist := func() {
		if err := w.state.TakeSnapshot(ctx, job.Item, values(reports)); err != nil {
			hookErrs.add(err)
		}
	}
	opts.OnResults = func([]*client.Response) { persist() }

	_, err := caller.MakeParallelCalls(ctx, requests, opts)
	persist()
	return errors.Join(append([]error{err}, hookErrs.all()...)...)
}

func (w *AsyncReportWorkflow) submit(ctx context.Context, job Job, reports []*fetchstate.ReportItem, _ *fileWriter) error {
	var requests []*client.Request
	for _, r := range reports {
		if r.RunID == "" || r.Resubmit {
			requests = append(requests, reportRequest(w.cfg, r, http.MethodPost))
		}
	}

	var hookErrs errorList
	opts := baseOptions(w.cfg, job)
	opts.PerItem = func(req *client.Request, resp *client.Response) {
		r := req.Report
		runID := gjson.GetBytes(resp.Payload, w.cfg.Async.RunIDPath).String()
		if runID == "" {
			r.FailedStatusCheck = true
			hookErrs.add(fmt.Errorf("submit %s: no run id at %q", r.Name, w.cfg.Async.RunIDPath))
			return
		}

		outcome := "submitted"
		if r.Resubmit {
			outcome = "resubmitted"
		}
		reportRunsTotal.WithLabelValues(w.cfg.Name, outcome).Inc()

		r.RunID = runID
		r.TrackingURL = expand(w.cfg.Async.StatusURL, job.Item, "{run_id}", runID)
		r.Ready = false
		r.FailedDownload = false
		r.FailedStatusCheck = false
		r.Resubmit = false

		job.Logger.Debug().Str("report", r.Name).Str("run_id", runID).Str("outcome", outcome).Msg("Report run submitted")
	}
	opts.OnException = func(req *client.Request, _ error) {
		req.Report.FailedStatusCheck = true
	}

	if err := w.runPhase(ctx, job, w.caller, reports, requests, opts, &hookErrs); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

func (w *AsyncReportWorkflow) poll(ctx context.Context, job Job, reports []*fetchstate.ReportItem, _ *fileWriter) error {
	var requests []*client.Request
	for _, r := range reports {
		if r.RunID != "" && !r.Ready && !r.Downloaded && !r.Failed() {
			requests = append(requests, getRequest(w.cfg, r, r.TrackingURL))
		}
	}

	var hookErrs errorList
	opts := baseOptions(w.cfg, job)
	opts.PerItem = func(req *client.Request, resp *client.Response) {
		r := req.Report
		status := gjson.GetBytes(resp.Payload, w.cfg.Async.StatusPath).String()
		if slices.Contains(w.cfg.Async.FailedValues, status) {
			reportRunsTotal.WithLabelValues(w.cfg.Name, "failed").Inc()
			r.FailedStatusCheck = true
			hookErrs.add(fmt.Errorf("%w: %s run %s status %q", ErrRunFailed, r.Name, r.RunID, status))
			return
		}

		downloadURL := expand(w.cfg.Async.DownloadURL, job.Item, "{run_id}", r.RunID)
		if w.cfg.Async.DownloadURLPath != "" {
			downloadURL = gjson.GetBytes(resp.Payload, w.cfg.Async.DownloadURLPath).String()
		}
		if downloadURL == "" {
			r.FailedStatusCheck = true
			hookErrs.add(fmt.Errorf("poll %s: ready run %s without download url", r.Name, r.RunID))
			return
		}

		reportRunsTotal.WithLabelValues(w.cfg.Name, "ready").Inc()
		r.Ready = true
		r.TrackingURL = downloadURL
	}
	opts.OnException = func(req *client.Request, _ error) {
		req.Report.FailedStatusCheck = true
	}

	if err := w.runPhase(ctx, job, w.poller, reports, requests, opts, &hookErrs); err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

func (w *AsyncReportWorkflow) download(ctx context.Context, job Job, reports []*fetchstate.ReportItem, files *fileWriter) error {
	var requests []*client.Request
	for _, r := range reports {
		if r.Ready && !r.Downloaded && !r.Failed() {
			requests = append(requests, getRequest(w.cfg, r, r.TrackingURL))
		}
	}

	var hookErrs errorList
	opts := baseOptions(w.cfg, job)
	opts.Stream = func(ctx context.Context, req *client.Request, body io.Reader) (int64, error) {
		return files.write(ctx, w.fileName(req.Report), body)
	}
	opts.PerItem = func(req *client.Request, resp *client.Response) {
		reportRunsTotal.WithLabelValues(w.cfg.Name, "downloaded").Inc()
		req.Report.Downloaded = true
		job.Logger.Debug().Str("report", req.Report.Name).Int64("bytes", resp.Bytes).Msg("Report downloaded")
	}
	opts.OnException = func(req *client.Request, _ error) {
		req.Report.FailedDownload = true
	}

	if err := w.runPhase(ctx, job, w.caller, reports, requests, opts, &hookErrs); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

func (w *AsyncReportWorkflow) fileName(r *fetchstate.ReportItem) string {
	return fmt.Sprintf("%s_%s.%s", r.Name, r.FileID, w.cfg.Async.FileExtension)
}

// settled accepts a status response once the vendor reports the run as
// ready or failed.
func (w *AsyncReportWorkflow) settled(resp *client.Response) bool {
	status := gjson.GetBytes(resp.Payload, w.cfg.Async.StatusPath).String()
	return slices.Contains(w.cfg.Async.ReadyValues, status) || slices.Contains(w.cfg.Async.FailedValues, status)
}

// pollingDoer repeats a status request under the conditional retry variant
// until the response is accepted. Transport failures are retried by the inner
// doer only.
type pollingDoer struct {
	inner  parallel.Doer
	name   string
	policy backoff.Policy
	accept func(*client.Response) bool
	logger zerolog.Logger
}

func (p *pollingDoer) Do(ctx context.Context, req *client.Request, stream client.StreamFunc) (*client.Response, error) {
	session := retry.New(retry.Config{
		Name:   p.name,
		Policy: p.policy,
		Budget: budget.FromContext(ctx),
		Logger: p.logger,
	})
	return retry.DoUntil(ctx, session, func(ctx context.Context) (*client.Response, error) {
		resp, err := p.inner.Do(ctx, req, stream)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		return resp, nil
	}, p.accept)
}
