package batch

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownItem   = errors.New("item not found in batch")
	ErrRunInProgress = errors.New("batch run already in progress")
)

// TransformError is recorded on a single item. It never fails a run.
type TransformError struct {
	ItemID string
	Name   string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Name, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// SinkError fails the deliverable of a whole run. Item results are kept.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
