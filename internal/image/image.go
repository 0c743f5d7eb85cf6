package image

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
)

// Metadata holds the pixel dimensions of a decoded raster image.
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// DecodeError reports bytes that are not a decodable raster image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CropError reports a failure to extract or write one crop.
type CropError struct {
	Path string
	Rect geometry.PixelRect
	Err  error
}

func (e *CropError) Error() string {
	return fmt.Sprintf("crop %s to %s: %v", e.Rect, e.Path, e.Err)
}

func (e *CropError) Unwrap() error { return e.Err }

// ReadMetadata returns the pixel dimensions of data without decoding the
// full raster.
func ReadMetadata(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, &DecodeError{Err: errors.New("empty input")}
	}

	cfg, format, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Metadata{}, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}

	return Metadata{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
