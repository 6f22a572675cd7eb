package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"imgbatch/internal/counter"
	"imgbatch/worker/converter"
	"imgbatch/worker/repository"
	"imgbatch/worker/validation"
	"imgbatch/worker/workflow"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

type memoryExporter struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (e *memoryExporter) Export(_ context.Context, name string, _ []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.names = append(e.names, name)
	return "mem://" + name, nil
}

type memoryHistory struct {
	runs []repository.Run
}

func (h *memoryHistory) RecordRun(_ context.Context, run repository.Run) error {
	h.runs = append(h.runs, run)
	return nil
}

type countingCounter struct {
	files, bytes int64
}

func (c *countingCounter) Increment(_ context.Context, files, size int64) (counter.Counts, error) {
	c.files += files
	c.bytes += size
	return counter.Counts{TotalFiles: c.files, TotalSizeBytes: c.bytes}, nil
}

func newProcessor(t *testing.T, exp *memoryExporter, hist *memoryHistory, cnt *countingCounter) *Processor {
	t.Helper()
	return NewProcessor(Options{
		MemoryBudget:  64 * 1024 * 1024,
		MaxTotalSize:  64 * 1024 * 1024,
		MaxConcurrent: 2,
		EvictCount:    3,
	}, Deps{Counter: cnt, Exporter: exp, History: hist, Logger: zaptest.NewLogger(t)})
}

func TestProcessor_CompressBatch(t *testing.T) {
	exp := &memoryExporter{}
	hist := &memoryHistory{}
	cnt := &countingCounter{}
	p := newProcessor(t, exp, hist, cnt)

	wf := workflow.Compress{Converter: converter.NewConverter(zaptest.NewLogger(t)), Quality: 70, MaxDimension: 32}
	files := []validation.File{
		{Name: "a.png", Data: pngBytes(t, 64, 64)},
		{Name: "b.png", Data: pngBytes(t, 48, 24)},
		{Name: "notes.txt", Data: []byte("not an image")},
	}

	report, err := p.Process(context.Background(), wf, files)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(report.Rejected) != 1 || report.Rejected[0].Name != "notes.txt" {
		t.Errorf("Expected notes.txt rejected, got %+v", report.Rejected)
	}
	if report.Result.Completed != 2 || report.Result.Failed != 0 {
		t.Errorf("Expected 2 completed, got %+v", report.Result)
	}
	if report.Location != "mem://compressed-images.zip" {
		t.Errorf("Unexpected location %q", report.Location)
	}
	if cnt.files != 2 {
		t.Errorf("Expected counter to record 2 files, got %d", cnt.files)
	}
	if len(hist.runs) != 1 || hist.runs[0].Workflow != "compress" || hist.runs[0].Completed != 2 {
		t.Errorf("Unexpected history %+v", hist.runs)
	}
	if used := p.Tracker().Usage().Used; used != 0 {
		t.Errorf("Expected all buffers released, %d bytes still tracked", used)
	}
}

func TestProcessor_NoAcceptableFiles(t *testing.T) {
	p := newProcessor(t, &memoryExporter{}, &memoryHistory{}, &countingCounter{})
	_, err := p.Process(context.Background(), workflow.Compress{}, []validation.File{{Name: "x.txt", Data: []byte("x")}})
	if !errors.Is(err, ErrNoFiles) {
		t.Errorf("Expected ErrNoFiles, got %v", err)
	}
}

func TestProcessor_ExportFailure(t *testing.T) {
	exp := &memoryExporter{err: errors.New("disk full")}
	hist := &memoryHistory{}
	p := newProcessor(t, exp, hist, &countingCounter{})

	wf := workflow.Compress{Converter: converter.NewConverter(zaptest.NewLogger(t))}
	report, err := p.Process(context.Background(), wf, []validation.File{{Name: "a.png", Data: pngBytes(t, 8, 8)}})
	if err == nil {
		t.Fatal("Expected export failure")
	}
	if report.Result == nil || report.Result.Completed != 1 {
		t.Errorf("Expected item results to survive export failure, got %+v", report.Result)
	}
	if len(hist.runs) != 0 {
		t.Errorf("Expected no history entry for failed export, got %d", len(hist.runs))
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png", ".hidden.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	single := filepath.Join(t.TempDir(), "c.png")
	if err := os.WriteFile(single, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, rejected := LoadFiles([]string{dir, single, filepath.Join(dir, "missing.png")})
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{"a.png", "b.png", "c.png"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, names)
			break
		}
	}
	if len(rejected) != 1 || rejected[0].Name != "missing.png" {
		t.Errorf("Expected missing.png rejected, got %+v", rejected)
	}
}
