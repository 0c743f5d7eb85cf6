package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/draw"
	"os"

	"github.com/sunshineplan/imgconv"

	"github.com/toricodesthings/signature-extraction-service/internal/geometry"
)

// PNGCropper cuts a rectangle out of an encoded image and writes it as PNG.
// It holds no state and is safe for concurrent use.
type PNGCropper struct{}

// Crop decodes data, extracts r and writes the result to dst, replacing any
// existing file. A partially written file is removed on failure.
func (PNGCropper) Crop(ctx context.Context, data []byte, r geometry.PixelRect, dst string) error {
	if err := ctx.Err(); err != nil {
		return &CropError{Path: dst, Rect: r, Err: err}
	}

	src, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return &CropError{Path: dst, Rect: r, Err: fmt.Errorf("decode: %w", err)}
	}

	cropped, err := subImage(src, r)
	if err != nil {
		return &CropError{Path: dst, Rect: r, Err: err}
	}

	f, err := os.Create(dst)
	if err != nil {
		return &CropError{Path: dst, Rect: r, Err: fmt.Errorf("create: %w", err)}
	}

	if err := imgconv.Write(f, cropped, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return &CropError{Path: dst, Rect: r, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return &CropError{Path: dst, Rect: r, Err: fmt.Errorf("close: %w", err)}
	}
	return nil
}

type subImager interface {
	SubImage(r stdimage.Rectangle) stdimage.Image
}

func subImage(src stdimage.Image, r geometry.PixelRect) (stdimage.Image, error) {
	b := src.Bounds()
	rect := stdimage.Rect(b.Min.X+r.Left, b.Min.Y+r.Top, b.Min.X+r.Right(), b.Min.Y+r.Bottom())
	if rect.Empty() || !rect.In(b) {
		return nil, errors.New("rectangle outside decoded image bounds")
	}

	if s, ok := src.(subImager); ok {
		return s.SubImage(rect), nil
	}

	dst := stdimage.NewNRGBA(stdimage.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst, nil
}
