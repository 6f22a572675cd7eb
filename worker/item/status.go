package item

import (
	"strings"

	"imgbatch/worker/tracker"
)

// Status tags the lifecycle state of an item in a batch.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusEdited     Status = "edited"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusEdited,
	StatusError,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// HasOutput reports whether items in this status carry a valid output.
func (s Status) HasOutput() bool {
	return s == StatusCompleted || s == StatusEdited
}

// state is the closed set of per-status payloads. Only completed and edited
// carry an output, only failed carries a cause.
type state interface {
	status() Status
}

type pendingState struct{}

type processingState struct{}

type completedState struct {
	output tracker.Handle
	size   int64
}

type editedState struct {
	output tracker.Handle
	size   int64
}

type failedState struct {
	cause string
}

func (pendingState) status() Status    { return StatusPending }
func (processingState) status() Status { return StatusProcessing }
func (completedState) status() Status  { return StatusCompleted }
func (editedState) status() Status     { return StatusEdited }
func (failedState) status() Status     { return StatusError }
