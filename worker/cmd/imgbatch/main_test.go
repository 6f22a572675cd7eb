package main

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"imgbatch/internal/counter"
	"imgbatch/worker/batch"
	"imgbatch/worker/service"
)

func TestParseCrop(t *testing.T) {
	rect, err := parseCrop("10, 20, 30, 40")
	if err != nil {
		t.Fatalf("parseCrop failed: %v", err)
	}
	if rect != image.Rect(10, 20, 40, 60) {
		t.Errorf("Unexpected rectangle %v", rect)
	}

	for _, bad := range []string{"1,2,3", "a,b,c,d", "0,0,0,10", "-1,0,5,5"} {
		if _, err := parseCrop(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, &service.Report{
		Location: "/tmp/compressed-images.zip",
		Result: &batch.Result{
			Completed:          2,
			Failed:             1,
			TotalOriginalBytes: 2000,
			TotalOutputBytes:   500,
			Errors:             []batch.ItemError{{Name: "broken.png", Cause: "decode image: unexpected EOF"}},
			Counts:             counter.Counts{TotalFiles: 1234, TotalSizeBytes: 2048},
		},
	})
	out := buf.String()

	for _, want := range []string{"broken.png", "75.0%", "Saved /tmp/compressed-images.zip", "1,234 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"compress", "convert", "edit", "watch", "counter", "history"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %q, got %v", name, err)
		}
	}
}

func TestCommandsReportConfigErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("[image\nquality = "), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	tests := map[string]struct {
		build func(*commandContext) *cobra.Command
		args  []string
	}{
		"compress": {build: newCompressCommand, args: []string{"photo.jpg"}},
		"watch":    {build: newWatchCommand, args: []string{t.TempDir()}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			// the command runs without the root's pre-run hook
			cmd := tt.build(newCommandContext(&globalFlags{config: path}))
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), "parse config") {
				t.Errorf("Expected a config parse error, got %v", err)
			}
		})
	}
}
