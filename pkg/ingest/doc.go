// Package ingest drives vendor fetches for work items.
//
// An Orchestrator runs a Workflow for every work item of a run. Failures are
// isolated per work item: the item is reported as Error, its partial output
// is kept for the next run and the orchestrator moves on. When any item
// failed, Run returns a *RunError after every item was attempted.
//
// Two workflows are provided:
//
//   - PagingWorkflow paginates every configured report until exhausted and
//     downloads the dimensions referenced by the fetched rows
//   - AsyncReportWorkflow submits report runs, polls them until they are
//     ready and streams the results to blob storage
//
// Both persist their progress in a fetchstate.Store after every batch, so an
// interrupted work item resumes where it stopped.
package ingest
