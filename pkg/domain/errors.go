package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrPipelineNotFound   = errors.New("pipeline not found")
	ErrIndexNotFound      = errors.New("index not found")
)

// CircuitBreakingError is returned when a request would use more memory
// than the breaker allows.
type CircuitBreakingError struct {
	Label       string
	ByteLimit   int64
	BytesWanted int64
}

func (e *CircuitBreakingError) Error() string {
	return fmt.Sprintf("data too large, data for [%s] would be [%d/%s], which is larger than the limit of [%d/%s]",
		e.Label, e.BytesWanted, humanize.IBytes(uint64(e.BytesWanted)), e.ByteLimit, humanize.IBytes(uint64(e.ByteLimit)))
}

// PartitionFailure is the failure of one partition during a search
type PartitionFailure struct {
	Collection string
	Partition  int
	Cause      error
}

func (f *PartitionFailure) Error() string {
	return fmt.Sprintf("[%s][%d]: %v", f.Collection, f.Partition, f.Cause)
}

func (f *PartitionFailure) Unwrap() error {
	return f.Cause
}

// SearchPhaseError is returned when one or more partitions failed a search.
// The partition failures are reachable with errors.As and errors.Is.
type SearchPhaseError struct {
	Phase    string
	Failures []*PartitionFailure
}

func (e *SearchPhaseError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("search failed during [%s] phase on %d partition(s): %s", e.Phase, len(e.Failures), strings.Join(parts, "; "))
}

func (e *SearchPhaseError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
