// Package heartrate estimates pulse rate from the mean green intensity of a
// central frame region (remote photoplethysmography).
//
// Samples are kept in a 12 second sliding window. The estimate is a direct
// power scan over a fixed 0.8-3.0 Hz grid in 0.02 Hz steps; the grid is part
// of the contract since it determines bpm rounding.
package heartrate

import (
	"math"
	"time"
)

const (
	// DefaultWindow is the sliding window length.
	DefaultWindow = 12 * time.Second
	// MinSamples and MinSpan are hard floors below which no estimate is made.
	MinSamples = 30
	MinSpan    = 4 * time.Second

	minHz  = 0.8
	maxHz  = 3.0
	stepHz = 0.02
)

// Estimate is a pulse reading. Strength is the peak spectral power.
type Estimate struct {
	BPM      uint32  `json:"bpm"`
	Strength float64 `json:"strength"`
}

// Estimator holds the sample window. It is not safe for concurrent use.
type Estimator struct {
	windowMs float64
	times    []float64
	values   []float64
}

// New returns an estimator with the default 12 s window.
func New() *Estimator {
	return NewWithWindow(DefaultWindow)
}

// NewWithWindow returns an estimator with a custom window length.
func NewWithWindow(window time.Duration) *Estimator {
	return &Estimator{windowMs: float64(window.Milliseconds())}
}

// Add appends a sample taken at tsMs and evicts samples older than the window.
// Timestamps must be non-decreasing; an older sample is dropped.
func (e *Estimator) Add(tsMs, value float64) {
	if n := len(e.times); n > 0 && tsMs < e.times[n-1] {
		return
	}
	e.times = append(e.times, tsMs)
	e.values = append(e.values, value)

	cutoff := tsMs - e.windowMs
	drop := 0
	for drop < len(e.times) && e.times[drop] < cutoff {
		drop++
	}
	if drop > 0 {
		e.times = append(e.times[:0], e.times[drop:]...)
		e.values = append(e.values[:0], e.values[drop:]...)
	}
}

// Len returns the number of samples in the window.
func (e *Estimator) Len() int {
	return len(e.times)
}

// Span returns the time covered by the window.
func (e *Estimator) Span() time.Duration {
	if len(e.times) < 2 {
		return 0
	}
	ms := e.times[len(e.times)-1] - e.times[0]
	return time.Duration(ms * float64(time.Millisecond))
}

// Reset clears the window.
func (e *Estimator) Reset() {
	e.times = e.times[:0]
	e.values = e.values[:0]
}

// Estimate scans the pulse band and returns the strongest frequency. ok is
// false when the window is too short or the spectrum is flat.
func (e *Estimator) Estimate() (est Estimate, ok bool) {
	n := len(e.values)
	if n < MinSamples {
		return Estimate{}, false
	}
	span := (e.times[n-1] - e.times[0]) / 1000
	if span < MinSpan.Seconds() {
		return Estimate{}, false
	}

	var mean float64
	for _, v := range e.values {
		mean += v
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, v := range e.values {
		centered[i] = v - mean
	}

	dt := span / float64(n-1)
	bestF, bestPower := 0.0, 0.0
	for f := minHz; f <= maxHz; f += stepHz {
		omega := -2 * math.Pi * f * dt
		var re, im float64
		for i, v := range centered {
			phi := omega * float64(i)
			re += v * math.Cos(phi)
			im += v * math.Sin(phi)
		}
		if power := (re*re + im*im) / float64(n); power > bestPower {
			bestF, bestPower = f, power
		}
	}
	if bestF == 0 {
		return Estimate{}, false
	}
	return Estimate{BPM: uint32(math.Round(bestF * 60)), Strength: bestPower}, true
}

// Phrase describes bpm in one of four bands.
func Phrase(bpm uint32) string {
	switch {
	case bpm == 0:
		return "measuring"
	case bpm < 60:
		return "relaxed, keep breathing calmly"
	case bpm < 90:
		return "stable, keep it up"
	case bpm < 110:
		return "slightly elevated, take a deep breath"
	default:
		return "elevated, please take a rest"
	}
}
