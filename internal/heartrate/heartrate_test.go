package heartrate

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// feedSine adds n samples spread evenly over spanMs at hz.
func feedSine(e *Estimator, n int, spanMs, hz float64) {
	for i := 0; i < n; i++ {
		ts := float64(i) * spanMs / float64(n-1)
		e.Add(ts, 100+5*math.Sin(2*math.Pi*hz*ts/1000))
	}
}

func TestEstimate72BPM(t *testing.T) {
	e := New()
	feedSine(e, 40, 8000, 1.2)
	est, ok := e.Estimate()
	if !ok {
		t.Fatal("no estimate")
	}
	if est.BPM < 70 || est.BPM > 74 {
		t.Fatalf("bpm = %d, want 72±2", est.BPM)
	}
	if est.Strength <= 0 {
		t.Fatalf("strength = %v", est.Strength)
	}
}

func TestEstimate90BPMDenseSampling(t *testing.T) {
	e := New()
	// 20 Hz for 11.95 s, the dashboard's sampling cadence.
	feedSine(e, 240, 11950, 1.5)
	est, ok := e.Estimate()
	if !ok {
		t.Fatal("no estimate")
	}
	if est.BPM < 88 || est.BPM > 92 {
		t.Fatalf("bpm = %d, want 90±2", est.BPM)
	}
}

func TestEstimateNeedsSamples(t *testing.T) {
	e := New()
	feedSine(e, 29, 10000, 1.2)
	if _, ok := e.Estimate(); ok {
		t.Fatal("estimate with 29 samples")
	}
}

func TestEstimateNeedsSpan(t *testing.T) {
	e := New()
	feedSine(e, 60, 3900, 1.2)
	if _, ok := e.Estimate(); ok {
		t.Fatal("estimate over a 3.9 s window")
	}
}

func TestEstimateFlatSignal(t *testing.T) {
	e := New()
	for i := 0; i < 100; i++ {
		e.Add(float64(i*50), 42)
	}
	if _, ok := e.Estimate(); ok {
		t.Fatal("estimate from a flat signal")
	}
}

func TestWindowEviction(t *testing.T) {
	e := New()
	for i := 0; i <= 300; i++ {
		e.Add(float64(i*50), 1)
	}
	// Last sample at 15000 ms; everything before 3000 ms is gone.
	if e.Len() != 241 {
		t.Fatalf("len = %d, want 241", e.Len())
	}
	if e.Span() != 12*time.Second {
		t.Fatalf("span = %v", e.Span())
	}

	e.Add(1000, 1)
	if e.Len() != 241 {
		t.Fatal("out-of-order sample accepted")
	}

	e.Reset()
	if e.Len() != 0 || e.Span() != 0 {
		t.Fatal("Reset left samples")
	}
}

func TestPhrase(t *testing.T) {
	tests := []struct {
		bpm  uint32
		want string
	}{
		{0, "measuring"},
		{48, "relaxed, keep breathing calmly"},
		{59, "relaxed, keep breathing calmly"},
		{60, "stable, keep it up"},
		{89, "stable, keep it up"},
		{90, "slightly elevated, take a deep breath"},
		{109, "slightly elevated, take a deep breath"},
		{110, "elevated, please take a rest"},
		{180, "elevated, please take a rest"},
	}
	for _, tt := range tests {
		if got := Phrase(tt.bpm); got != tt.want {
			t.Errorf("Phrase(%d) = %q, want %q", tt.bpm, got, tt.want)
		}
	}
}

func TestSampleGreen(t *testing.T) {
	const w, h = 8, 4
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := byte(0)
			if x >= 2 && x < 6 && y >= 1 && y < 3 {
				g = 200
			}
			pix[(y*w+x)*3+1] = g
		}
	}
	got, err := SampleGreen(types.Frame{Pix: pix, Width: w, Height: h, Channels: 3})
	if err != nil {
		t.Fatalf("SampleGreen: %v", err)
	}
	if got != 200 {
		t.Fatalf("mean green = %v, want 200", got)
	}

	if _, err := SampleGreen(types.Frame{}); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}
