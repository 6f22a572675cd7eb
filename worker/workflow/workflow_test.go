package workflow

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"go.uber.org/zap/zaptest"

	"imgbatch/worker/converter"
	"imgbatch/worker/item"
)

func pngSource(t *testing.T, name string) item.Source {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, x%20, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return item.NewSource(name, "image/png", buf.Bytes())
}

func TestConvert_SetsFormatAndArchive(t *testing.T) {
	w, err := Parse("convert", converter.NewConverter(zaptest.NewLogger(t)), "JPEG")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	out, err := w.Transform(context.Background(), pngSource(t, "logo.png"))
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if out.Format != "jpeg" {
		t.Errorf("Expected format jpeg, got %q", out.Format)
	}
	if got := w.Options().ArchiveName; got != "converted-to-jpeg.zip" {
		t.Errorf("Unexpected archive name %q", got)
	}
}

func TestCompress_KeepsExtension(t *testing.T) {
	w := Compress{Converter: converter.NewConverter(zaptest.NewLogger(t))}

	out, err := w.Transform(context.Background(), pngSource(t, "logo.png"))
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if out.Format != "" {
		t.Errorf("Expected source extension to be kept, got %q", out.Format)
	}
	opts := w.Options()
	if opts.NameSuffix != "-compressed" || opts.ArchiveName != "compressed-images.zip" {
		t.Errorf("Unexpected options: %+v", opts)
	}
}

func TestParse_Rejects(t *testing.T) {
	conv := converter.NewConverter(zaptest.NewLogger(t))
	if _, err := Parse("convert", conv, "webp"); err == nil {
		t.Error("Expected webp conversion to be rejected")
	}
	if _, err := Parse("sharpen", conv, ""); err == nil {
		t.Error("Expected unknown workflow to be rejected")
	}
}
