package types

// Box is an axis-aligned rectangle in source-frame pixels, top-left anchored.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the box midpoint.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns W*H.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Clamp keeps the box inside [0,width]x[0,height] with non-negative size.
func (b Box) Clamp(width, height float64) Box {
	x := clamp(b.X, 0, width)
	y := clamp(b.Y, 0, height)
	return Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, width-x),
		H: clamp(b.H, 0, height-y),
	}
}

// Detection is a decoded candidate in source-frame coordinates.
type Detection struct {
	Box     Box     `json:"box"`
	Score   float64 `json:"score"`
	ClassID uint32  `json:"class_id"`
	Label   string  `json:"label,omitempty"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
