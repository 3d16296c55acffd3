// Package letterbox maps arbitrary frames into the fixed square detector input
// and maps detector boxes back into source-frame pixels.
package letterbox

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// DefaultTargetSize is the square input edge of YOLOv8 exports.
const DefaultTargetSize = 640

// PadColor fills the margins around the pasted frame.
var PadColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Meta describes how a source frame was resized and padded into the target square.
type Meta struct {
	Scale        float64 `json:"scale"`
	PadX         int     `json:"pad_x"`
	PadY         int     `json:"pad_y"`
	SourceWidth  int     `json:"source_width"`
	SourceHeight int     `json:"source_height"`
	TargetSize   int     `json:"target_size"`
	NewWidth     int     `json:"new_width"`
	NewHeight    int     `json:"new_height"`
}

// Compute returns the letterbox parameters for a width x height source.
func Compute(width, height, target int) (Meta, error) {
	if width <= 0 || height <= 0 {
		return Meta{}, fmt.Errorf("letterbox source %dx%d: %w", width, height, types.ErrInvalidInput)
	}
	if target <= 0 {
		return Meta{}, fmt.Errorf("letterbox target %d: %w", target, types.ErrInvalidInput)
	}

	t := float64(target)
	scale := math.Min(t/float64(width), t/float64(height))
	newW := int(math.Round(float64(width) * scale))
	newH := int(math.Round(float64(height) * scale))
	// Rounding can overshoot by one pixel on the constrained edge.
	if newW > target {
		newW = target
	}
	if newH > target {
		newH = target
	}

	return Meta{
		Scale:        scale,
		PadX:         (target - newW) / 2,
		PadY:         (target - newH) / 2,
		SourceWidth:  width,
		SourceHeight: height,
		TargetSize:   target,
		NewWidth:     newW,
		NewHeight:    newH,
	}, nil
}

// ToSource maps a center-anchored target-space box (cx, cy, w, h) to a
// top-left anchored box in source pixels. No clamping is applied.
func (m Meta) ToSource(cx, cy, w, h float64) types.Box {
	return types.Box{
		X: (cx - w/2 - float64(m.PadX)) / m.Scale,
		Y: (cy - h/2 - float64(m.PadY)) / m.Scale,
		W: w / m.Scale,
		H: h / m.Scale,
	}
}

// ToTarget is the inverse of ToSource: it returns the center-anchored
// target-space box for a source box.
func (m Meta) ToTarget(b types.Box) (cx, cy, w, h float64) {
	w = b.W * m.Scale
	h = b.H * m.Scale
	cx = b.X*m.Scale + float64(m.PadX) + w/2
	cy = b.Y*m.Scale + float64(m.PadY) + h/2
	return cx, cy, w, h
}

// Prepare renders src scaled and centered on a gray square canvas.
func Prepare(src image.Image, m Meta) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, m.TargetSize, m.TargetSize))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(PadColor), image.Point{}, draw.Src)

	inner := image.Rect(m.PadX, m.PadY, m.PadX+m.NewWidth, m.PadY+m.NewHeight)
	draw.ApproxBiLinear.Scale(dst, inner, src, src.Bounds(), draw.Src, nil)
	return dst
}

// Tensor converts a square RGBA canvas into a planar (1, 3, S, S) float32
// buffer in R, G, B order with samples scaled to [0, 1].
func Tensor(img *image.RGBA) ([]int, []float32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := 0; x < w; x++ {
			p := y*w + x
			data[p] = float32(row[4*x]) / 255
			data[plane+p] = float32(row[4*x+1]) / 255
			data[2*plane+p] = float32(row[4*x+2]) / 255
		}
	}
	return []int{1, 3, h, w}, data
}
