package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/budget"
	"github.com/Sternrassler/adfetch/pkg/fetchstate"
	"github.com/Sternrassler/adfetch/pkg/logging"
	"github.com/Sternrassler/adfetch/pkg/parallel"
	"github.com/rs/zerolog"
)

// Job is one work item handed to a workflow.
type Job struct {
	Item   WorkItem
	Budget *budget.Budget
	Logger zerolog.Logger
}

// Workflow materializes the reports of one work item. It returns the
// manifest entries of every file it wrote, also when it fails.
type Workflow interface {
	Name() string
	Fetch(ctx context.Context, job Job) ([]ManifestEntry, error)
}

// Orchestrator runs a workflow for every work item of a run.
type Orchestrator struct {
	cfg      VendorConfig
	workflow Workflow
	state    *fetchstate.Store
	blobs    blob.Store
	reporter StatusReporter
	logger   zerolog.Logger
}

// NewOrchestrator creates an orchestrator. reporter may be nil, in which case
// status transitions are only logged.
func NewOrchestrator(cfg VendorConfig, workflow Workflow, state *fetchstate.Store, blobs blob.Store, reporter StatusReporter, logger zerolog.Logger) *Orchestrator {
	logger = logger.With().
		Str("component", "orchestrator").
		Str("vendor", cfg.Name).
		Str("workflow", workflow.Name()).
		Logger()
	if reporter == nil {
		reporter = LogReporter{Logger: logger}
	}
	return &Orchestrator{
		cfg:      cfg,
		workflow: workflow,
		state:    state,
		blobs:    blobs,
		reporter: reporter,
		logger:   logger,
	}
}

// Run loads and prunes the fetch state, then processes items in order. A
// failing item is reported as Error and does not stop the run; if any item
// failed a *RunError is returned after every item was attempted.
func (o *Orchestrator) Run(ctx context.Context, items []WorkItem) error {
	if err := o.state.LoadSnapshots(ctx); err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	if err := o.state.LoadIdVault(ctx); err != nil {
		return fmt.Errorf("load id vault: %w", err)
	}

	o.logger.Info().Int("work_items", len(items)).Msg("Run started")
	start := time.Now()

	runErr := &RunError{Total: len(items)}
	for _, item := range items {
		if err := o.runItem(ctx, item); err != nil {
			runErr.Failures = append(runErr.Failures, ItemFailure{WorkItemID: item.ID(), Err: err})
		}
	}

	o.logger.Info().
		Int("work_items", len(items)).
		Int("failed", len(runErr.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Run finished")

	if len(runErr.Failures) > 0 {
		return runErr
	}
	return nil
}

func (o *Orchestrator) runItem(ctx context.Context, item WorkItem) error {
	logger := logging.ForWorkItem(o.logger, item.ID(), item.AccountID()).With().
		Str("target_date", item.TargetDate().Format(DateLayout)).
		Logger()

	if err := ctx.Err(); err != nil {
		o.report(ctx, logger, item, StatusError, err)
		return err
	}

	o.report(ctx, logger, item, StatusRunning, nil)
	start := time.Now()
	defer func() { workItemDuration.WithLabelValues(o.cfg.Name).Observe(time.Since(start).Seconds()) }()

	b := budget.Unlimited()
	if o.cfg.MaxRuntime > 0 {
		b = budget.Start(o.cfg.MaxRuntime)
	}
	itemCtx := budget.WithContext(ctx, b)

	entries, err := o.workflow.Fetch(itemCtx, Job{Item: item, Budget: b, Logger: logger})
	if err == nil {
		err = o.complete(ctx, item, entries)
	}
	if err != nil {
		o.fail(ctx, logger, item, entries)
		workItemsTotal.WithLabelValues(o.cfg.Name, string(StatusError)).Inc()
		o.report(ctx, logger, item, StatusError, err)
		return err
	}

	workItemsTotal.WithLabelValues(o.cfg.Name, string(StatusComplete)).Inc()
	logger.Info().
		Int("files", len(entries)).
		Dur("duration", time.Since(start)).
		Msg("Work item complete")
	o.report(ctx, logger, item, StatusComplete, nil)
	return nil
}

// complete writes the manifest of item, including the files of earlier
// failed attempts, and clears its snapshot.
func (o *Orchestrator) complete(ctx context.Context, item WorkItem, entries []ManifestEntry) error {
	partial := o.blobs.Open(manifestPath(item, PartialManifestFile))
	m, err := readManifest(ctx, partial)
	if err != nil {
		return fmt.Errorf("read partial manifest: %w", err)
	}
	if m == nil {
		m = o.newManifest(item)
	}
	m.CreatedAt = time.Now().UTC()
	m.Merge(entries)

	if err := writeManifest(ctx, o.blobs.Open(manifestPath(item, ManifestFile)), m); err != nil {
		return err
	}
	if err := partial.Delete(ctx); err != nil {
		return fmt.Errorf("delete partial manifest: %w", err)
	}
	if err := o.state.ClearSnapshot(ctx, item.ID()); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// fail keeps what a failed attempt produced for the next run.
func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, item WorkItem, entries []ManifestEntry) {
	if len(entries) == 0 {
		return
	}

	h := o.blobs.Open(manifestPath(item, PartialManifestFile))
	m, err := readManifest(ctx, h)
	if err != nil {
		logger.Warn().Err(err).Msg("Discarding unreadable partial manifest")
	}
	if m == nil {
		m = o.newManifest(item)
	}
	m.CreatedAt = time.Now().UTC()
	m.Merge(entries)
	if err := writeManifest(ctx, h, m); err != nil {
		logger.Warn().Err(err).Msg("Failed to write partial manifest")
	}
}

func (o *Orchestrator) newManifest(item WorkItem) *Manifest {
	return &Manifest{
		Vendor:     o.cfg.Name,
		WorkItemID: item.ID(),
		AccountID:  item.AccountID(),
		TargetDate: item.TargetDate().Format(DateLayout),
	}
}

func (o *Orchestrator) report(ctx context.Context, logger zerolog.Logger, item WorkItem, status Status, cause error) {
	if err := o.reporter.ReportStatus(ctx, item, status, cause); err != nil {
		logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to report work item status")
	}
}

// runtimeExceeded adapts a budget to parallel.Options.OnMaxRuntime.
func runtimeExceeded(logger zerolog.Logger, b *budget.Budget) func() bool {
	return func() bool {
		if !b.Exceeded() {
			return false
		}
		logger.Warn().
			Dur("elapsed", b.Elapsed()).
			Dur("max_runtime", b.Max()).
			Msg("Max runtime reached, no further batches dispatched")
		return true
	}
}

// baseOptions returns the parallel options shared by every batch of a job.
func baseOptions(cfg VendorConfig, job Job) parallel.Options {
	return parallel.Options{
		MaxDegreeOfParallelism: cfg.MaxDegreeOfParallelism,
		PermittedPerWindow:     cfg.PermittedPerWindow,
		Window:                 cfg.Window,
		OnMaxRuntime:           runtimeExceeded(job.Logger, job.Budget),
	}
}
