package item

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"imgbatch/worker/tracker"
)

func newTestItem(t *testing.T, size int) (*Item, *tracker.Tracker) {
	t.Helper()
	tr := tracker.New(1<<30, zaptest.NewLogger(t))
	src := NewSource("photo.jpg", "image/jpeg", make([]byte, size))
	return New("item-1", src, tr), tr
}

func TestItem_NewIsPendingWithPreview(t *testing.T) {
	it, tr := newTestItem(t, 100)

	if it.Status() != StatusPending {
		t.Errorf("Expected pending, got %s", it.Status())
	}
	if it.Progress() != 0 {
		t.Errorf("Expected progress 0, got %d", it.Progress())
	}
	if !tr.IsLive(it.Preview()) {
		t.Error("Expected preview handle to be live")
	}
	if got := tr.Usage().Used; got != 100 {
		t.Errorf("Expected 100 bytes tracked, got %d", got)
	}
	if _, _, ok := it.Output(); ok {
		t.Error("Expected no output for pending item")
	}
}

func TestItem_CompleteSetsOutputAtomically(t *testing.T) {
	it, tr := newTestItem(t, 1_000_000)

	if err := it.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := it.Complete(make([]byte, 400_000)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	v := it.View()
	if v.Status != StatusCompleted || v.Progress != 100 || v.OutputSize != 400_000 {
		t.Errorf("Unexpected view after completion: %+v", v)
	}
	if got := tr.Usage().Used; got != 1_400_000 {
		t.Errorf("Expected preview+output = 1400000 bytes, got %d", got)
	}
}

func TestItem_FailKeepsProgress(t *testing.T) {
	it, _ := newTestItem(t, 10)
	_ = it.Start()
	it.SetProgress(40)

	if err := it.Fail("decode error"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if it.Progress() != 40 {
		t.Errorf("Expected progress untouched at 40, got %d", it.Progress())
	}
	cause, ok := it.Cause()
	if !ok || cause != "decode error" {
		t.Errorf("Expected cause 'decode error', got %q", cause)
	}
	if _, _, ok := it.Output(); ok {
		t.Error("Expected no output for failed item")
	}
}

func TestItem_InvalidTransitions(t *testing.T) {
	it, _ := newTestItem(t, 10)

	if err := it.Complete([]byte("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected pending -> completed to be invalid, got %v", err)
	}
	if err := it.Fail("x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected pending -> error to be invalid, got %v", err)
	}

	_ = it.Start()
	if err := it.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected processing -> processing to be invalid, got %v", err)
	}
	if err := it.Edit(NewSource("e.jpg", "image/jpeg", []byte("e"))); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected edit while processing to be invalid, got %v", err)
	}
}

func TestItem_EditReleasesPriorHandles(t *testing.T) {
	it, tr := newTestItem(t, 100)
	_ = it.Start()
	_ = it.Complete(make([]byte, 50))
	oldPreview := it.Preview()
	oldOutput, _, _ := it.Output()

	edited := NewSource("photo.jpg", "image/jpeg", make([]byte, 30))
	if err := it.Edit(edited); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}

	if tr.IsLive(oldPreview) || tr.IsLive(oldOutput) {
		t.Error("Expected old preview and output to be released")
	}
	if got := tr.Usage().Used; got != 30 {
		t.Errorf("Expected only edited bytes tracked (30), got %d", got)
	}
	if it.Status() != StatusEdited || it.Progress() != 100 {
		t.Errorf("Expected edited at 100%%, got %s at %d", it.Status(), it.Progress())
	}
	if it.Input().Size != 30 {
		t.Errorf("Expected edited bytes to become the input, got size %d", it.Input().Size)
	}
	if it.Original().Size != 100 {
		t.Errorf("Expected original to stay untouched, got size %d", it.Original().Size)
	}
}

func TestItem_RestartKeepsEditedInput(t *testing.T) {
	it, tr := newTestItem(t, 100)
	_ = it.Edit(NewSource("photo.jpg", "image/jpeg", make([]byte, 30)))

	if err := it.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if it.Status() != StatusProcessing {
		t.Errorf("Expected processing, got %s", it.Status())
	}
	if it.Input().Size != 30 {
		t.Errorf("Expected edited input to be kept, got %d", it.Input().Size)
	}
	if err := it.Complete(make([]byte, 20)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got := tr.Usage().Used; got != 50 {
		t.Errorf("Expected edited preview + new output = 50, got %d", got)
	}
}

func TestItem_RestartRejectsPending(t *testing.T) {
	it, _ := newTestItem(t, 10)
	if err := it.Restart(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected restart of pending item to be invalid, got %v", err)
	}
}

func TestItem_DetachReleasesEverythingOnce(t *testing.T) {
	it, tr := newTestItem(t, 100)
	_ = it.Start()

	if !it.Detach() {
		t.Fatal("Expected first detach to report true")
	}
	if it.Detach() {
		t.Error("Expected second detach to report false")
	}
	if err := it.Complete(make([]byte, 10)); !errors.Is(err, ErrDetached) {
		t.Errorf("Expected ErrDetached, got %v", err)
	}
	if got := tr.Usage().Used; got != 0 {
		t.Errorf("Expected nothing tracked after detach, got %d", got)
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus(" Edited "); !ok || s != StatusEdited {
		t.Errorf("Expected edited, got %q %v", s, ok)
	}
	if _, ok := ParseStatus("removed"); ok {
		t.Error("Expected removed not to be a status")
	}
}
