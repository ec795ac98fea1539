package ingest

import (
	"fmt"
	"strings"
)

// ItemFailure is the failure of one work item.
type ItemFailure struct {
	WorkItemID string
	Err        error
}

// RunError summarizes the failed work items of a run.
type RunError struct {
	Total    int
	Failures []ItemFailure
}

func (e *RunError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.WorkItemID
	}
	return fmt.Sprintf("%d of %d work items failed: %s", len(e.Failures), e.Total, strings.Join(ids, ", "))
}

// Unwrap exposes the item failures to errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
