package telemetry

import (
	"image"

	"golang.org/x/image/draw"
)

// Sample dimensions used for telemetry and heart-rate sampling.
const (
	SampleWidth  = 160
	SampleHeight = 120
)

// Downsample scales img to the fixed sample size, ignoring aspect ratio.
func Downsample(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, SampleWidth, SampleHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
