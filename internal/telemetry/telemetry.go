// Package telemetry derives ambient image statistics from small RGB samples:
// brightness, contrast, frame-to-frame motion and colour bias, plus the
// compact EV classification shown on the dashboard panel.
package telemetry

import (
	"fmt"
	"math"
	"time"

	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

const (
	contrastLow  = 15.0
	contrastMid  = 40.0
	motionStill  = 1.0
	motionMid    = 5.0
	biasMargin   = 5.0
	ambientDark  = 20.0
	ambientLight = 80.0
	highConf     = 0.85
)

// Snapshot is the result of one telemetry tick.
type Snapshot struct {
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	StdDev      float64 `json:"stddev"`
	MotionScore float64 `json:"motion_score"`
	RMean       float64 `json:"r_mean"`
	GMean       float64 `json:"g_mean"`
	BMean       float64 `json:"b_mean"`

	AmbientPercent float64 `json:"ambient_percent"`
	ContrastCode   string  `json:"contrast_code"` // L, M, H
	MotionCode     string  `json:"motion_code"`   // S, M, A
	ColorBias      string  `json:"color_bias"`    // R, G, B, N
	EnvCode        string  `json:"env_code"`      // DK, NM, BR
	EVCode         string  `json:"ev_code"`       // e.g. 55_N, 75_G_HIGH_CONF

	// Confidence is the mean score of the frame's detections, 0 when none.
	Confidence float64 `json:"avg_confidence"`

	SampleWidth  int       `json:"sample_width"`
	SampleHeight int       `json:"sample_height"`
	Timestamp    time.Time `json:"timestamp"`
}

// Panel renders the four-line HUD text. The phase line reads LIVE while
// detections carry confidence.
func (s Snapshot) Panel() string {
	phase := "IDLE"
	if s.Confidence > 0 {
		phase = "LIVE"
	}
	return fmt.Sprintf("H %.1f%%\nE %dx%d/%s%s/CONF:%.2f\nS %s\nEV %s",
		math.Min(100, math.Max(0, s.AmbientPercent)),
		s.SampleWidth, s.SampleHeight, s.MotionCode, s.ContrastCode, s.Confidence,
		phase, s.EVCode)
}

// WithConfidence returns s rated against the mean detection confidence avg.
func (s Snapshot) WithConfidence(avg float64) Snapshot {
	if math.IsNaN(avg) || avg < 0 {
		avg = 0
	}
	s.Confidence = avg
	s.EVCode = evCode(s.EnvCode, s.ColorBias, avg)
	return s
}

// Engine computes snapshots and keeps the previous tick's brightness buffer
// for motion estimation. It is not safe for concurrent use.
type Engine struct {
	prev    []float64
	prevW   int
	prevH   int
	scratch []float64
}

// NewEngine returns an engine in first-tick state.
func NewEngine() *Engine {
	return &Engine{}
}

// Reset drops the previous brightness buffer; the next tick reports no motion.
func (e *Engine) Reset() {
	e.prev = nil
	e.prevW, e.prevH = 0, 0
}

// Tick computes a snapshot for f in a single pass. A frame whose size differs
// from the previous tick is treated as a first tick.
func (e *Engine) Tick(f types.Frame) (Snapshot, error) {
	if err := f.Validate(); err != nil {
		return Snapshot{}, err
	}

	n := f.PixelCount()
	cur := e.scratch
	if cap(cur) < n {
		cur = make([]float64, n)
	}
	cur = cur[:n]

	prev := e.prev
	if f.Width != e.prevW || f.Height != e.prevH {
		prev = nil
	}

	var sum, sumSq, rSum, gSum, bSum, motion float64
	lo, hi := 255.0, 0.0
	ch := f.Channels
	for p := 0; p < n; p++ {
		i := p * ch
		r := float64(f.Pix[i])
		g := float64(f.Pix[i+1])
		b := float64(f.Pix[i+2])
		v := (r + g + b) / 3

		cur[p] = v
		sum += v
		sumSq += v * v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		rSum += r
		gSum += g
		bSum += b
		if prev != nil {
			motion += math.Abs(v - prev[p])
		}
	}

	count := float64(n)
	mean := sum / count
	s := Snapshot{
		Mean:         mean,
		Min:          lo,
		Max:          hi,
		StdDev:       math.Sqrt(math.Max(sumSq/count-mean*mean, 0)),
		RMean:        rSum / count,
		GMean:        gSum / count,
		BMean:        bSum / count,
		SampleWidth:  f.Width,
		SampleHeight: f.Height,
		Timestamp:    f.Timestamp,
	}
	if prev != nil {
		s.MotionScore = motion / (count * 255) * 100
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	classify(&s)

	// Swap buffers so the next tick reuses the old allocation.
	e.scratch = e.prev
	e.prev = cur
	e.prevW, e.prevH = f.Width, f.Height
	return s, nil
}

func classify(s *Snapshot) {
	s.AmbientPercent = s.Mean / 255 * 100

	switch {
	case s.StdDev < contrastLow:
		s.ContrastCode = "L"
	case s.StdDev < contrastMid:
		s.ContrastCode = "M"
	default:
		s.ContrastCode = "H"
	}

	switch {
	case s.MotionScore < motionStill:
		s.MotionCode = "S"
	case s.MotionScore < motionMid:
		s.MotionCode = "M"
	default:
		s.MotionCode = "A"
	}

	s.ColorBias = colorBias(s.RMean, s.GMean, s.BMean)

	switch {
	case s.AmbientPercent < ambientDark:
		s.EnvCode = "DK"
	case s.AmbientPercent > ambientLight:
		s.EnvCode = "BR"
	default:
		s.EnvCode = "NM"
	}
	s.EVCode = evCode(s.EnvCode, s.ColorBias, s.Confidence)
}

// evCode scores the environment band (DK 40, NM 55, BR 70) and adds 5 with a
// _HIGH_CONF suffix above 0.85 confidence.
func evCode(env, bias string, conf float64) string {
	score := 55
	switch env {
	case "DK":
		score = 40
	case "BR":
		score = 70
	}
	suffix := ""
	if conf > highConf {
		score += 5
		suffix = "_HIGH_CONF"
	}
	return fmt.Sprintf("%d_%s%s", score, bias, suffix)
}

// colorBias tests R, then G, then B; the first dominant channel wins.
func colorBias(r, g, b float64) string {
	switch {
	case r-g > biasMargin && r-b > biasMargin:
		return "R"
	case g-b > biasMargin && g-r > biasMargin:
		return "G"
	case b-r > biasMargin && b-g > biasMargin:
		return "B"
	}
	return "N"
}
