// Package parallel executes batches of vendor requests concurrently under a
// rate window, with fail-fast semantics per window chunk and a paging loop
// that feeds continuation requests back into the next round.
//
// Example usage:
//
//	caller := parallel.New(vendorClient, logger)
//	res, err := caller.MakeParallelCallsWithPaging(ctx, requests, parallel.Options{
//		MaxDegreeOfParallelism: 4,
//		PermittedPerWindow:     200,
//		Window:                 time.Hour,
//		Paging:                 parallel.NextPageFromJSON("paging.cursors.after"),
//	})
//
// The caller:
//   - Splits requests into window-sized chunks in input order
//   - Dispatches every chunk through an errgroup bounded by the degree of parallelism
//   - Cancels the rest of a chunk on its first failure and never dispatches later chunks
//   - Hands partial successes to OnResults before returning a *BatchError
//
// "Page 2 of entity A" is just another request in the next round, interleaved
// with "page 1 of entity B".
package parallel
