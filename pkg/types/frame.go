package types

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"
)

// ErrInvalidInput marks malformed frames, tensors or dimensions. Components
// wrap it and return a neutral result so a single bad frame never stops the loop.
var ErrInvalidInput = errors.New("invalid input")

// Frame is one captured instant as interleaved 8-bit samples.
type Frame struct {
	Pix       []byte    // Interleaved samples, row-major, no padding
	Width     int       // Frame width in pixels
	Height    int       // Frame height in pixels
	Channels  int       // 3 (RGB) or 4 (RGBA)
	Seq       uint64    // Sequential frame number
	Timestamp time.Time // Capture timestamp
}

// Validate checks that the frame dimensions and buffer agree.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame %dx%d: %w", f.Width, f.Height, ErrInvalidInput)
	}
	if f.Channels != 3 && f.Channels != 4 {
		return fmt.Errorf("frame channels %d: %w", f.Channels, ErrInvalidInput)
	}
	if len(f.Pix) < f.Width*f.Height*f.Channels {
		return fmt.Errorf("frame buffer %d bytes, need %d: %w",
			len(f.Pix), f.Width*f.Height*f.Channels, ErrInvalidInput)
	}
	return nil
}

// PixelCount returns Width*Height.
func (f Frame) PixelCount() int {
	return f.Width * f.Height
}

// FrameFromImage copies img into a tightly packed RGBA frame.
func FrameFromImage(img image.Image, seq uint64, ts time.Time) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Frame{
		Pix:       rgba.Pix,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Channels:  4,
		Seq:       seq,
		Timestamp: ts,
	}
}
