package session

import (
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/heartrate"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// DetectionEvent is published after every decoded frame.
type DetectionEvent struct {
	Seq         uint64            `json:"seq"`
	Timestamp   time.Time         `json:"timestamp"`
	FrameWidth  int               `json:"frame_width"`
	FrameHeight int               `json:"frame_height"`
	Layout      string            `json:"layout"`
	Detections  []types.Detection `json:"detections"`
	Actionable  []types.Detection `json:"actionable"`
	InferenceMs int64             `json:"inference_ms"`
}

// HeartEvent is published after every heart-rate sample.
type HeartEvent struct {
	Timestamp time.Time          `json:"timestamp"`
	Green     float64            `json:"green"`
	Samples   int                `json:"samples"`
	Available bool               `json:"available"`
	Estimate  heartrate.Estimate `json:"estimate"`
	Phrase    string             `json:"phrase"`
}

// State is a session lifecycle change.
type State struct {
	Running    bool      `json:"running"`
	Generation uint64    `json:"generation"`
	StartedAt  time.Time `json:"started_at"`
	Changed    time.Time `json:"changed"`
}

// Observer receives session output. Calls happen outside the session lock
// and must not block for long.
type Observer interface {
	OnDetections(DetectionEvent)
	OnTelemetry(telemetry.Snapshot)
	OnHeartRate(HeartEvent)
	OnAlert(alert.Alert)
	OnState(State)
}

// NopObserver implements Observer with no-ops; embed it to handle a subset.
type NopObserver struct{}

func (NopObserver) OnDetections(DetectionEvent)    {}
func (NopObserver) OnTelemetry(telemetry.Snapshot) {}
func (NopObserver) OnHeartRate(HeartEvent)         {}
func (NopObserver) OnAlert(alert.Alert)            {}
func (NopObserver) OnState(State)                  {}
