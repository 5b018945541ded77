package domain

import (
	"fmt"
	"time"
)

// InvalidRangeError reports a time filter whose start lies after its end.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: start %s is after end %s",
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

// QueryError reports an unreachable store or a rejected query.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("event store %s failed", e.Op)
	}
	return fmt.Sprintf("event store %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError wraps a store failure. A nil cause yields nil.
func NewQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Op: op, Err: err}
}

// MalformedInputError reports a grouped-count tuple that violates its shape.
type MalformedInputError struct {
	Index  int
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed grouped count at index %d: %s", e.Index, e.Reason)
}

// ExternalError reports a failed call to a dependency outside the store,
// such as the image host or the model service.
type ExternalError struct {
	Service string
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}
