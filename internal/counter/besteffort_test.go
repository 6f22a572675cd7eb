package counter

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

type flakyCounter struct {
	counts Counts
	fail   bool
}

func (f *flakyCounter) Get(context.Context) (Counts, error) {
	if f.fail {
		return Counts{}, errors.New("connection refused")
	}
	return f.counts, nil
}

func (f *flakyCounter) Increment(_ context.Context, files, size int64) (Counts, error) {
	if f.fail {
		return Counts{}, errors.New("connection refused")
	}
	f.counts = f.counts.Add(files, size)
	return f.counts, nil
}

func (f *flakyCounter) Reset(context.Context) (Counts, error) {
	if f.fail {
		return Counts{}, errors.New("connection refused")
	}
	f.counts = Zero()
	return f.counts, nil
}

func TestBestEffort_ReturnsZeroWhenNothingKnown(t *testing.T) {
	b := NewBestEffort(&flakyCounter{fail: true}, zaptest.NewLogger(t))

	counts, err := b.Increment(context.Background(), 3, 600)
	if err != nil {
		t.Fatalf("Expected error to be swallowed, got %v", err)
	}
	if counts.TotalFiles != 0 || counts.TotalSizeBytes != 0 {
		t.Errorf("Expected zero counts, got %+v", counts)
	}
}

func TestBestEffort_ReturnsLastKnownOnFailure(t *testing.T) {
	inner := &flakyCounter{}
	b := NewBestEffort(inner, zaptest.NewLogger(t))

	if _, err := b.Increment(context.Background(), 2, 100); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	inner.fail = true

	counts, _ := b.Get(context.Background())
	if counts.TotalFiles != 2 || counts.TotalSizeBytes != 100 {
		t.Errorf("Expected last-known 2/100, got %+v", counts)
	}
}

func TestBestEffort_SubscribeUnsupported(t *testing.T) {
	b := NewBestEffort(Noop{}, zaptest.NewLogger(t))
	if _, err := b.Subscribe(context.Background(), func(Counts) {}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(0); got != "0 B" {
		t.Errorf("Expected '0 B', got %q", got)
	}
	if got := FormatSize(1536); got != "1.5 KiB" {
		t.Errorf("Expected '1.5 KiB', got %q", got)
	}
}
