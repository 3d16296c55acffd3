package events

import (
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// Wire layout, proto3 semantics (zero scalars omitted):
//
//	Box            { double x = 1; double y = 2; double w = 3; double h = 4; }
//	Detection      { Box box = 1; double score = 2; uint32 class_id = 3; string label = 4; }
//	DetectionEvent { uint64 seq = 1; int64 timestamp_ms = 2; int32 frame_width = 3;
//	                 int32 frame_height = 4; string layout = 5; repeated Detection detections = 6;
//	                 repeated Detection actionable = 7; int64 inference_ms = 8; }
//	Telemetry      { int64 timestamp_ms = 1; double mean = 2; double min = 3; double max = 4;
//	                 double stddev = 5; double motion_score = 6; double r_mean = 7;
//	                 double g_mean = 8; double b_mean = 9; double ambient_percent = 10;
//	                 string contrast_code = 11; string motion_code = 12; string color_bias = 13;
//	                 string env_code = 14; string ev_code = 15; double avg_confidence = 16; }
//	HeartEvent     { int64 timestamp_ms = 1; double green = 2; int32 samples = 3;
//	                 bool available = 4; uint32 bpm = 5; double strength = 6; string phrase = 7; }
//	LabelCount     { string label = 1; int32 count = 2; }
//	Alert          { string kind = 1; string message = 2; string voice = 3; uint32 bpm = 4;
//	                 int64 fired_at_ms = 5; repeated LabelCount counts = 6; }
//	Summary        { int32 total = 1; repeated LabelCount counts = 2; repeated string top = 3;
//	                 double avg_confidence = 4; }
//	Status         { bool running = 1; uint64 generation = 2; int64 started_at_ms = 3;
//	                 DetectionEvent latest = 4; repeated DetectionEvent history = 5;
//	                 Summary summary = 6; Telemetry telemetry = 7; HeartEvent heart_rate = 8;
//	                 repeated Alert recent_alerts = 9; int64 timestamp_ms = 10; string panel = 11; }

type message []byte

func (m message) double(num protowire.Number, v float64) message {
	if v == 0 {
		return m
	}
	m = protowire.AppendTag(m, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(m, math.Float64bits(v))
}

func (m message) uint(num protowire.Number, v uint64) message {
	if v == 0 {
		return m
	}
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, v)
}

func (m message) int(num protowire.Number, v int64) message {
	return m.uint(num, uint64(v))
}

func (m message) boolean(num protowire.Number, v bool) message {
	if !v {
		return m
	}
	return m.uint(num, 1)
}

func (m message) str(num protowire.Number, v string) message {
	if v == "" {
		return m
	}
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, v)
}

func (m message) embed(num protowire.Number, v []byte) message {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, v)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func detectionProto(d types.Detection) []byte {
	var box message
	box = box.double(1, d.Box.X).double(2, d.Box.Y).double(3, d.Box.W).double(4, d.Box.H)

	var m message
	m = m.embed(1, box)
	return m.double(2, d.Score).uint(3, uint64(d.ClassID)).str(4, d.Label)
}

func detectionEventProto(e session.DetectionEvent) []byte {
	var m message
	m = m.uint(1, e.Seq).
		int(2, millis(e.Timestamp)).
		int(3, int64(e.FrameWidth)).
		int(4, int64(e.FrameHeight)).
		str(5, e.Layout)
	for _, d := range e.Detections {
		m = m.embed(6, detectionProto(d))
	}
	for _, d := range e.Actionable {
		m = m.embed(7, detectionProto(d))
	}
	return m.int(8, e.InferenceMs)
}

func snapshotProto(s telemetry.Snapshot) []byte {
	var m message
	return m.int(1, millis(s.Timestamp)).
		double(2, s.Mean).
		double(3, s.Min).
		double(4, s.Max).
		double(5, s.StdDev).
		double(6, s.MotionScore).
		double(7, s.RMean).
		double(8, s.GMean).
		double(9, s.BMean).
		double(10, s.AmbientPercent).
		str(11, s.ContrastCode).
		str(12, s.MotionCode).
		str(13, s.ColorBias).
		str(14, s.EnvCode).
		str(15, s.EVCode).
		double(16, s.Confidence)
}

func heartProto(e session.HeartEvent) []byte {
	var m message
	return m.int(1, millis(e.Timestamp)).
		double(2, e.Green).
		int(3, int64(e.Samples)).
		boolean(4, e.Available).
		uint(5, uint64(e.Estimate.BPM)).
		double(6, e.Estimate.Strength).
		str(7, e.Phrase)
}

func labelCountsProto(m message, num protowire.Number, counts []alert.LabelCount) message {
	for _, c := range counts {
		var lc message
		m = m.embed(num, lc.str(1, c.Label).int(2, int64(c.Count)))
	}
	return m
}

func alertProto(a alert.Alert) []byte {
	var m message
	m = m.str(1, string(a.Kind)).
		str(2, a.Message).
		str(3, string(a.Voice)).
		uint(4, uint64(a.BPM)).
		int(5, millis(a.FiredAt))
	return labelCountsProto(m, 6, a.Counts)
}

func summaryProto(s Summary) []byte {
	var m message
	m = m.int(1, int64(s.Total))
	m = labelCountsProto(m, 2, s.CountsByClass)
	for _, top := range s.TopClasses {
		m = m.str(3, top)
	}
	return m.double(4, s.AverageConfidence)
}

func statusProto(s Status) []byte {
	var m message
	m = m.boolean(1, s.Session.Running).
		uint(2, s.Session.Generation).
		int(3, millis(s.Session.StartedAt))
	if s.LatestDetection != nil {
		m = m.embed(4, detectionEventProto(*s.LatestDetection))
	}
	for _, h := range s.DetectionHistory {
		m = m.embed(5, detectionEventProto(h))
	}
	m = m.embed(6, summaryProto(s.Summary))
	if s.Telemetry != nil {
		m = m.embed(7, snapshotProto(*s.Telemetry))
	}
	if s.HeartRate != nil {
		m = m.embed(8, heartProto(*s.HeartRate))
	}
	for _, a := range s.RecentAlerts {
		m = m.embed(9, alertProto(a))
	}
	return m.int(10, millis(s.Timestamp)).str(11, s.Panel)
}
