// Package events serializes session output for the dashboard transports.
// Every event is encoded once as JSON and once as protobuf; subscribers pick
// the format they negotiated.
package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// Topics carried by the transports.
const (
	TopicStatus     = "status"
	TopicDetections = "detections"
	TopicTelemetry  = "telemetry"
	TopicHeartRate  = "heart_rate"
	TopicAlert      = "alert"
)

// SerializedEvent holds pre-serialized data in both formats.
type SerializedEvent struct {
	Topic        string
	JSONData     []byte // Pre-serialized JSON
	Protobuf     []byte // Raw protobuf message
	ProtobufData []byte // Base64 of Protobuf, for SSE
}

func serialize(topic string, payload any, pb []byte) (*SerializedEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return &SerializedEvent{
		Topic:        topic,
		JSONData:     data,
		Protobuf:     pb,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pb)),
	}, nil
}

// Summary condenses one frame's detections for the dashboard overlay.
type Summary struct {
	Total             int                `json:"total"`
	CountsByClass     []alert.LabelCount `json:"counts_by_class"`
	TopClasses        []string           `json:"top_classes"`
	AverageConfidence float64            `json:"avg_confidence"`
}

// Summarize counts detections by label (first-seen order), averages their
// scores and ranks the classes by count.
func Summarize(dets []types.Detection, label func(uint32) string) Summary {
	s := Summary{Total: len(dets), CountsByClass: alert.CountLabels(dets, label)}
	if len(dets) == 0 {
		return s
	}
	var sum float64
	for _, d := range dets {
		sum += d.Score
	}
	s.AverageConfidence = sum / float64(len(dets))

	ranked := make([]alert.LabelCount, len(s.CountsByClass))
	copy(ranked, s.CountsByClass)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	for i := 0; i < len(ranked) && i < 3; i++ {
		s.TopClasses = append(s.TopClasses, ranked[i].Label)
	}
	return s
}

// Status is the dashboard status payload.
type Status struct {
	Session          session.State            `json:"session"`
	LatestDetection  *session.DetectionEvent  `json:"latest_detection"`
	DetectionHistory []session.DetectionEvent `json:"detection_history"`
	Summary          Summary                  `json:"summary"`
	Telemetry        *telemetry.Snapshot      `json:"telemetry"`
	Panel            string                   `json:"panel,omitempty"`
	HeartRate        *session.HeartEvent      `json:"heart_rate"`
	RecentAlerts     []alert.Alert            `json:"recent_alerts"`
	Timestamp        time.Time                `json:"timestamp"`
}

// EncodeStatus serializes a status payload.
func EncodeStatus(s Status) (*SerializedEvent, error) {
	return serialize(TopicStatus, s, statusProto(s))
}

// EncodeDetections serializes a decoded frame.
func EncodeDetections(e session.DetectionEvent) (*SerializedEvent, error) {
	return serialize(TopicDetections, e, detectionEventProto(e))
}

// EncodeTelemetry serializes a telemetry snapshot.
func EncodeTelemetry(s telemetry.Snapshot) (*SerializedEvent, error) {
	return serialize(TopicTelemetry, s, snapshotProto(s))
}

// EncodeHeartRate serializes a heart-rate sample.
func EncodeHeartRate(e session.HeartEvent) (*SerializedEvent, error) {
	return serialize(TopicHeartRate, e, heartProto(e))
}

// EncodeAlert serializes a fired alert.
func EncodeAlert(a alert.Alert) (*SerializedEvent, error) {
	return serialize(TopicAlert, a, alertProto(a))
}
