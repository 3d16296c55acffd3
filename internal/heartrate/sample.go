package heartrate

import (
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// SampleGreen returns the mean green value of the central half of f
// (x from W/4 over W/2 columns, same for rows).
func SampleGreen(f types.Frame) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	x0, y0 := f.Width/4, f.Height/4
	w, h := f.Width/2, f.Height/2
	if w == 0 || h == 0 {
		// Tiny frames fall back to the whole image.
		x0, y0, w, h = 0, 0, f.Width, f.Height
	}

	var sum float64
	for y := y0; y < y0+h; y++ {
		row := y * f.Width * f.Channels
		for x := x0; x < x0+w; x++ {
			sum += float64(f.Pix[row+x*f.Channels+1])
		}
	}
	return sum / float64(w*h), nil
}
