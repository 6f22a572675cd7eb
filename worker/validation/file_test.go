package validation

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func encode(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", format, err)
	}
	return buf.Bytes()
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		format string
		want   FileType
	}{
		{"png", FileTypePNG},
		{"jpeg", FileTypeJPEG},
		{"gif", FileTypeGIF},
	}
	for _, tt := range tests {
		got, mediaType, err := DetectFileType(encode(t, tt.format))
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.format, err)
			continue
		}
		if got != tt.want || mediaType != "image/"+tt.format {
			t.Errorf("%s: got %s (%s)", tt.format, got, mediaType)
		}
	}
}

func TestDetectFileType_RejectsNonImages(t *testing.T) {
	if _, _, err := DetectFileType([]byte("%PDF-1.4 not an image")); !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("Expected ErrInvalidFileType, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	pngData := encode(t, "png")

	src, err := Validate("logo.PNG", pngData)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if src.MediaType != "image/png" || src.Size != int64(len(pngData)) {
		t.Errorf("Unexpected source: %+v", src)
	}

	if _, err := Validate("logo.jpg", pngData); !errors.Is(err, ErrExtensionMismatch) {
		t.Errorf("Expected ErrExtensionMismatch, got %v", err)
	}
	if _, err := Validate("empty.png", nil); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Expected ErrEmptyFile, got %v", err)
	}
	if _, err := Validate("huge.png", make([]byte, MaxFileSize+1)); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge, got %v", err)
	}
}

func TestFilter_KeepsOrder(t *testing.T) {
	files := []File{
		{Name: "b.png", Data: encode(t, "png")},
		{Name: "notes.txt", Data: []byte("hello")},
		{Name: "a.gif", Data: encode(t, "gif")},
	}

	accepted, rejected := Filter(files)
	if len(accepted) != 2 || accepted[0].Name != "b.png" || accepted[1].Name != "a.gif" {
		t.Errorf("Unexpected accepted files: %+v", accepted)
	}
	if len(rejected) != 1 || rejected[0].Name != "notes.txt" {
		t.Errorf("Unexpected rejections: %+v", rejected)
	}
}
