package parallel

import (
	"fmt"

	"github.com/Sternrassler/adfetch/pkg/client"
)

// Failure is one failed request of a chunk.
type Failure struct {
	Request *client.Request
	Err     error
}

// BatchError aggregates the failures of one window chunk.
type BatchError struct {
	Failures []Failure
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("batch failed: %v", e.Failures[0].Err)
	}
	return fmt.Sprintf("batch failed with %d errors, first: %v", len(e.Failures), e.Failures[0].Err)
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
