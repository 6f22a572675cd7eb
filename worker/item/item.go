package item

import (
	"errors"
	"fmt"
	"sync"

	"imgbatch/worker/tracker"
)

var (
	ErrInvalidTransition = errors.New("invalid item transition")
	ErrDetached          = errors.New("item removed from batch")
)

// Source is an immutable input image: original file bytes plus metadata.
type Source struct {
	Name      string
	Size      int64
	MediaType string
	Data      []byte
}

// NewSource builds a Source whose Size matches data.
func NewSource(name, mediaType string, data []byte) Source {
	return Source{Name: name, Size: int64(len(data)), MediaType: mediaType, Data: data}
}

// View is a read-only snapshot of an item for progress rendering.
type View struct {
	ID           string
	Name         string
	Status       Status
	Progress     int
	OriginalSize int64
	InputSize    int64
	OutputSize   int64
	Error        string
}

// Item is one image in a batch. Every transition releases the handles it
// replaces before installing new ones.
type Item struct {
	mu       sync.Mutex
	id       string
	original Source
	input    Source
	preview  tracker.Handle
	progress int
	state    state
	detached bool
	tracker  *tracker.Tracker
}

// New creates a pending item and eagerly registers its preview buffer.
func New(id string, src Source, tr *tracker.Tracker) *Item {
	return &Item{
		id:       id,
		original: src,
		input:    src,
		preview:  tr.Acquire(src.Data),
		state:    pendingState{},
		tracker:  tr,
	}
}

func (it *Item) ID() string { return it.id }

// Original is the file as it was admitted.
func (it *Item) Original() Source { return it.original }

// Input is what a transform should consume: the edited bytes once the item
// has been edited, the original otherwise.
func (it *Item) Input() Source {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.input
}

func (it *Item) Status() Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state.status()
}

func (it *Item) Progress() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.progress
}

func (it *Item) Preview() tracker.Handle {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.preview
}

// Output returns the output handle and size for completed or edited items.
func (it *Item) Output() (tracker.Handle, int64, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	switch s := it.state.(type) {
	case completedState:
		return s.output, s.size, true
	case editedState:
		return s.output, s.size, true
	default:
		return tracker.Handle{}, 0, false
	}
}

// Cause returns the failure cause for items in the error state.
func (it *Item) Cause() (string, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if s, ok := it.state.(failedState); ok {
		return s.cause, true
	}
	return "", false
}

func (it *Item) Detached() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.detached
}

func (it *Item) View() View {
	it.mu.Lock()
	defer it.mu.Unlock()

	v := View{
		ID:           it.id,
		Name:         it.original.Name,
		Status:       it.state.status(),
		Progress:     it.progress,
		OriginalSize: it.original.Size,
		InputSize:    it.input.Size,
	}
	switch s := it.state.(type) {
	case completedState:
		v.OutputSize = s.size
	case editedState:
		v.OutputSize = s.size
	case failedState:
		v.Error = s.cause
	}
	return v
}

// Start moves a pending item to processing.
func (it *Item) Start() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if err := it.checkLocked(StatusProcessing, StatusPending); err != nil {
		return err
	}
	it.state = processingState{}
	return nil
}

// Restart moves an already settled item back to processing for an explicit
// re-run. The prior output is released; edited bytes stay as the input.
func (it *Item) Restart() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if err := it.checkLocked(StatusProcessing, StatusCompleted, StatusEdited, StatusError); err != nil {
		return err
	}
	it.releaseOutputLocked()
	it.state = processingState{}
	return nil
}

// SetProgress records an intermediate percentage while processing.
func (it *Item) SetProgress(percent int) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.detached {
		return
	}
	it.progress = clampPercent(percent)
}

// Complete registers data as the output and marks the item completed in one step.
func (it *Item) Complete(data []byte) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if err := it.checkLocked(StatusCompleted, StatusProcessing); err != nil {
		return err
	}
	it.state = completedState{
		output: it.tracker.Acquire(data),
		size:   int64(len(data)),
	}
	it.progress = 100
	return nil
}

// Fail records cause and leaves progress untouched.
func (it *Item) Fail(cause string) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if err := it.checkLocked(StatusError, StatusProcessing); err != nil {
		return err
	}
	if cause == "" {
		cause = "Processing failed"
	}
	it.state = failedState{cause: cause}
	return nil
}

// Edit replaces the effective input with src outside the batch pipeline.
// The edited bytes back both the preview and the output.
func (it *Item) Edit(src Source) error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if err := it.checkLocked(StatusEdited, StatusPending, StatusCompleted, StatusError); err != nil {
		return err
	}
	it.releaseOutputLocked()
	it.tracker.Release(it.preview)

	h := it.tracker.Acquire(src.Data)
	it.input = src
	it.preview = h
	it.state = editedState{output: h, size: src.Size}
	it.progress = 100
	return nil
}

// Detach releases every handle the item owns. Later transitions fail with
// ErrDetached. It reports whether this call did the detaching.
func (it *Item) Detach() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.detached {
		return false
	}
	it.releaseOutputLocked()
	it.tracker.Release(it.preview)
	it.detached = true
	return true
}

func (it *Item) releaseOutputLocked() {
	switch s := it.state.(type) {
	case completedState:
		it.tracker.Release(s.output)
	case editedState:
		// edits share one buffer between preview and output
		if s.output != it.preview {
			it.tracker.Release(s.output)
		}
	}
}

func (it *Item) checkLocked(to Status, from ...Status) error {
	if it.detached {
		return ErrDetached
	}
	current := it.state.status()
	for _, s := range from {
		if current == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
