package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

const (
	DefaultQuality      = 80
	DefaultMaxDimension = 1920
)

// Formats lists every format the converter can encode.
var Formats = []string{"jpeg", "png", "gif", "bmp", "tiff"}

// Geometry describes a single-image edit. Zero values leave the image as is.
type Geometry struct {
	Crop   *image.Rectangle
	Scale  float64
	Rotate int
}

type Converter struct {
	logger *zap.Logger
}

func NewConverter(logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{logger: logger}
}

// Compress re-encodes src in its own format, shrinking it to fit within
// maxDimension on its longest side. Lossy quality applies to JPEG only.
func (c *Converter) Compress(ctx context.Context, src []byte, quality, maxDimension int) ([]byte, error) {
	img, format, err := c.decode(ctx, src)
	if err != nil {
		return nil, err
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	b := img.Bounds()
	if b.Dx() > maxDimension || b.Dy() > maxDimension {
		c.logger.Debug("Resizing image",
			zap.Int("width", b.Dx()),
			zap.Int("height", b.Dy()),
			zap.Int("max_dimension", maxDimension),
		)
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	// webp cannot be re-encoded, compress it to jpeg
	if format == "webp" {
		format = "jpeg"
	}
	return c.encode(ctx, img, format, quality)
}

// Convert re-encodes src as format.
func (c *Converter) Convert(ctx context.Context, src []byte, format string) ([]byte, error) {
	target, err := NormalizeFormat(format)
	if err != nil {
		c.logger.Error("Unsupported format", zap.Error(err))
		return nil, err
	}
	img, _, err := c.decode(ctx, src)
	if err != nil {
		return nil, err
	}
	return c.encode(ctx, img, target, DefaultQuality)
}

// Edit applies crop, then scale, then rotation and re-encodes in the source format.
func (c *Converter) Edit(ctx context.Context, src []byte, g Geometry) ([]byte, error) {
	img, format, err := c.decode(ctx, src)
	if err != nil {
		return nil, err
	}

	if g.Crop != nil {
		rect := g.Crop.Intersect(img.Bounds())
		if rect.Empty() {
			return nil, fmt.Errorf("crop %v is outside the image bounds %v", *g.Crop, img.Bounds())
		}
		img = imaging.Crop(img, rect)
	}
	if g.Scale > 0 && g.Scale != 1 {
		b := img.Bounds()
		w := max(1, int(float64(b.Dx())*g.Scale))
		h := max(1, int(float64(b.Dy())*g.Scale))
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	switch ((g.Rotate % 360) + 360) % 360 {
	case 0:
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	default:
		img = imaging.Rotate(img, float64(g.Rotate), image.Transparent)
	}

	if format == "webp" {
		format = "png"
	}
	return c.encode(ctx, img, format, DefaultQuality)
}

// NormalizeFormat maps a user supplied format or extension to a supported
// encoder name.
func NormalizeFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	switch f {
	case "jpg", "jpeg":
		return "jpeg", nil
	case "tif", "tiff":
		return "tiff", nil
	case "png", "gif", "bmp":
		return f, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

func (c *Converter) decode(ctx context.Context, src []byte) (image.Image, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		c.logger.Error("Failed to decode image", zap.String("format", format), zap.Error(err))
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

func (c *Converter) encode(ctx context.Context, img image.Image, format string, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(quality)); err != nil {
		c.logger.Error("Failed to encode image", zap.String("format", format), zap.Error(err))
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
