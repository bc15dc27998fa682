// Package imagedecode turns uploaded bytes into an in-memory image, validating the
// format and the declared dimensions before any pixel data is allocated.
package imagedecode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// Registered decoders. Anything not listed here is rejected as unsupported.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmpty is returned when the input contains no bytes.
	ErrEmpty = errors.New("imagedecode: empty input")
	// ErrUnsupportedFormat is returned when the bytes do not match any registered image format.
	ErrUnsupportedFormat = errors.New("imagedecode: unsupported image format")
	// ErrInvalidImage is returned when the format is recognized but the data is corrupt or truncated.
	ErrInvalidImage = errors.New("imagedecode: invalid image data")
	// ErrTooLarge is returned when the declared dimensions exceed the configured limits.
	ErrTooLarge = errors.New("imagedecode: image exceeds size limits")
)

const (
	defaultMaxDimension = 10000
	defaultMaxPixels    = 40_000_000
	jpegQuality         = 95
)

// Limits bounds the dimensions of images accepted by Decode. Zero fields disable that check.
type Limits struct {
	MaxDimension int
	MaxPixels    int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDimension: defaultMaxDimension,
		MaxPixels:    defaultMaxPixels,
	}
}

func (l Limits) check(width, height int) error {
	if l.MaxDimension > 0 && (width > l.MaxDimension || height > l.MaxDimension) {
		return fmt.Errorf("%w: %dx%d exceeds max dimension %d", ErrTooLarge, width, height, l.MaxDimension)
	}

	if l.MaxPixels > 0 && int64(width)*int64(height) > l.MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds max pixels %d", ErrTooLarge, width, height, l.MaxPixels)
	}

	return nil
}

// Decoded is an image together with the bytes and format it was decoded from.
type Decoded struct {
	Image  image.Image
	Format string
	Raw    []byte
}

// Decode validates and decodes data. The header is read first with image.DecodeConfig so
// oversized images are rejected without decoding their pixels.
func Decode(data []byte, limits Limits) (*Decoded, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized %s image", ErrInvalidImage, format)
	}

	if err := limits.check(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	return &Decoded{Image: img, Format: format, Raw: data}, nil
}

// JPEG returns the image as JPEG bytes, reusing the original upload when it already was one.
func (d *Decoded) JPEG() ([]byte, error) {
	if d.Format == "jpeg" && len(d.Raw) > 0 {
		return d.Raw, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, d.Image, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
