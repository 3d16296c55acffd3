// Package alert composes warning messages and rate-limits their delivery.
//
// Each alert kind keeps its own clock: a detection alert never delays a heart
// rate alert and vice versa. A permitted fire updates the clock before the
// sink is called; sink errors are logged and counted, never returned.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/heartrate"
	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// Kind identifies an alert source.
type Kind string

const (
	KindDetection Kind = "detection"
	KindHeartRate Kind = "heart_rate"
	KindTest      Kind = "test"
)

// VoiceMode tells the dashboard how to play an alert.
type VoiceMode string

const (
	VoiceTTS  VoiceMode = "tts"
	VoiceBeep VoiceMode = "beep"
	VoiceOff  VoiceMode = "off"
)

// Valid reports whether m is a known mode.
func (m VoiceMode) Valid() bool {
	return m == VoiceTTS || m == VoiceBeep || m == VoiceOff
}

const (
	// MinCooldown is the floor applied to any configured cooldown.
	MinCooldown = time.Second
	// HeartCooldown is the minimum spacing between heart rate alerts.
	HeartCooldown = 8 * time.Second
	// MinHeartStrength gates heart rate alerts on a clear spectral peak.
	MinHeartStrength = 0.1
)

// Alert is a composed message handed to a Sink.
type Alert struct {
	Kind    Kind         `json:"kind"`
	Message string       `json:"message"`
	Voice   VoiceMode    `json:"voice"`
	Counts  []LabelCount `json:"counts,omitempty"`
	BPM     uint32       `json:"bpm,omitempty"`
	FiredAt time.Time    `json:"fired_at"`
}

// Policy carries the live settings a fire attempt is evaluated against.
type Policy struct {
	Cooldown    time.Duration
	Voice       VoiceMode
	WarningText string
	// Label names a class id; labels.Name when nil.
	Label func(uint32) string
}

func (p Policy) cooldown(kind Kind) time.Duration {
	cd := p.Cooldown
	if cd < MinCooldown {
		cd = MinCooldown
	}
	if kind == KindHeartRate && cd < HeartCooldown {
		cd = HeartCooldown
	}
	return cd
}

// Dispatcher enforces per-kind cooldowns and delivers alerts to a sink.
type Dispatcher struct {
	mu      sync.Mutex
	sink    Sink
	metrics *metrics.Metrics
	last    map[Kind]time.Time
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(sink Sink, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		sink:    sink,
		metrics: m,
		last:    make(map[Kind]time.Time),
	}
}

// Detections fires a detection alert for dets. Nothing fires for an empty list.
func (d *Dispatcher) Detections(ctx context.Context, now time.Time, dets []types.Detection, p Policy) (Alert, bool) {
	if len(dets) == 0 {
		return Alert{}, false
	}
	counts := CountLabels(dets, p.Label)
	a := Alert{
		Kind:    KindDetection,
		Message: ComposeDetections(p.WarningText, counts),
		Counts:  counts,
	}
	return d.fire(ctx, now, a, p)
}

// HeartRate fires a heart rate alert when the estimate is strong enough.
func (d *Dispatcher) HeartRate(ctx context.Context, now time.Time, est heartrate.Estimate, p Policy) (Alert, bool) {
	if est.BPM == 0 || est.Strength <= MinHeartStrength {
		return Alert{}, false
	}
	a := Alert{
		Kind:    KindHeartRate,
		Message: ComposeHeartRate(est.BPM),
		BPM:     est.BPM,
	}
	return d.fire(ctx, now, a, p)
}

// Test fires the operator's voice check message.
func (d *Dispatcher) Test(ctx context.Context, now time.Time, p Policy) (Alert, bool) {
	return d.fire(ctx, now, Alert{Kind: KindTest, Message: TestMessage}, p)
}

// Reset forgets every kind's last fire time.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = make(map[Kind]time.Time)
}

// LastFired returns when kind last fired.
func (d *Dispatcher) LastFired(kind Kind) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.last[kind]
	return t, ok
}

func (d *Dispatcher) fire(ctx context.Context, now time.Time, a Alert, p Policy) (Alert, bool) {
	d.mu.Lock()
	if last, ok := d.last[a.Kind]; ok && now.Sub(last) < p.cooldown(a.Kind) {
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.AlertsSuppressed.Add(1)
		}
		return Alert{}, false
	}
	d.last[a.Kind] = now
	d.mu.Unlock()

	a.Voice = p.Voice
	if !a.Voice.Valid() {
		a.Voice = VoiceTTS
	}
	a.FiredAt = now
	if d.metrics != nil {
		d.metrics.AlertsFired.Add(1)
	}

	// Off consumes the cooldown but delivers nothing.
	if a.Voice == VoiceOff || d.sink == nil {
		return a, true
	}
	if err := d.sink.Deliver(ctx, a); err != nil {
		if d.metrics != nil {
			d.metrics.AlertDeliveryErrors.Add(1)
		}
		logger.Warn("Alert", "Delivery of %s alert failed: %v", a.Kind, err)
	}
	return a, true
}
