package geometry

import (
	"errors"
	"fmt"
	"math"
)

// NormalizedBox is a bounding box expressed as fractions of the image
// width/height with the origin at the top-left corner.
type NormalizedBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PixelRect is a bounding box in absolute pixels for one specific image.
type PixelRect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r PixelRect) Right() int  { return r.Left + r.Width }
func (r PixelRect) Bottom() int { return r.Top + r.Height }

func (r PixelRect) String() string {
	return fmt.Sprintf("{left:%d top:%d width:%d height:%d}", r.Left, r.Top, r.Width, r.Height)
}

// ErrRejected matches every *RejectedError via errors.Is.
var ErrRejected = errors.New("geometry rejected")

// RejectedError reports a box whose pixel rectangle cannot be cropped from
// the image. The rectangle is reported as computed, never clamped.
type RejectedError struct {
	Rect   PixelRect
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("geometry rejected %s: %s", e.Rect, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Round converts a pixel coordinate to an integer using round-half-up.
func Round(v float64) int {
	return int(math.Floor(v + 0.5))
}

// ToPixelRect scales every field of b by the image dimensions and rounds
// each product independently. No validation happens here.
func ToPixelRect(b NormalizedBox, imageWidth, imageHeight int) PixelRect {
	w := float64(imageWidth)
	h := float64(imageHeight)
	return PixelRect{
		Left:   Round(b.Left * w),
		Top:    Round(b.Top * h),
		Width:  Round(b.Width * w),
		Height: Round(b.Height * h),
	}
}

// Validate reports whether r lies fully inside an image of the given size
// and has a positive area.
func (r PixelRect) Validate(imageWidth, imageHeight int) error {
	switch {
	case r.Left < 0:
		return &RejectedError{Rect: r, Reason: "left edge is negative"}
	case r.Top < 0:
		return &RejectedError{Rect: r, Reason: "top edge is negative"}
	case r.Width <= 0:
		return &RejectedError{Rect: r, Reason: "width is not positive"}
	case r.Height <= 0:
		return &RejectedError{Rect: r, Reason: "height is not positive"}
	case r.Right() > imageWidth:
		return &RejectedError{Rect: r, Reason: fmt.Sprintf("right edge %d exceeds image width %d", r.Right(), imageWidth)}
	case r.Bottom() > imageHeight:
		return &RejectedError{Rect: r, Reason: fmt.Sprintf("bottom edge %d exceeds image height %d", r.Bottom(), imageHeight)}
	}
	return nil
}

// Map converts b into a validated pixel rectangle. On rejection the computed
// rectangle is still returned alongside a *RejectedError so callers can log it.
func Map(b NormalizedBox, imageWidth, imageHeight int) (PixelRect, error) {
	for _, v := range [...]float64{b.Left, b.Top, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return PixelRect{}, &RejectedError{Reason: "box has a non-finite coordinate"}
		}
	}
	if imageWidth <= 0 || imageHeight <= 0 {
		return PixelRect{}, &RejectedError{Reason: fmt.Sprintf("invalid image size %dx%d", imageWidth, imageHeight)}
	}

	r := ToPixelRect(b, imageWidth, imageHeight)
	if err := r.Validate(imageWidth, imageHeight); err != nil {
		return r, err
	}
	return r, nil
}
