package errors

import (
	"fmt"
	"sort"
	"strings"
)

// ChunkFailure records one failed chunk inside an aggregate error.
type ChunkFailure struct {
	Index int
	Err   error
}

// AggregateChunkError reports every chunk that failed during a parallel
// execution run. It is raised only after the whole batch schedule finishes,
// so sibling telemetry is never lost to an early return.
type AggregateChunkError struct {
	Failures []ChunkFailure
}

// Error implements the error interface, naming every failing chunk index.
func (e *AggregateChunkError) Error() string {
	if len(e.Failures) == 0 {
		return "no chunk failures"
	}

	indices := e.Indices()
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("chunk %d: %v", f.Index, f.Err))
	}
	return fmt.Sprintf("%d of the scheduled chunks failed (indices %v): %s",
		len(e.Failures), indices, strings.Join(parts, "; "))
}

// Indices returns the failing chunk indices in ascending order.
func (e *AggregateChunkError) Indices() []int {
	indices := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		indices = append(indices, f.Index)
	}
	sort.Ints(indices)
	return indices
}

// Unwrap exposes the individual chunk errors to errors.Is/As.
func (e *AggregateChunkError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// NewAggregateChunkError builds an aggregate error from the collected
// failures, or returns nil when there are none.
func NewAggregateChunkError(failures []ChunkFailure) error {
	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	return &AggregateChunkError{Failures: failures}
}
