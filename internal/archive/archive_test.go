package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/heartrate"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

func openTest(t *testing.T) (*Archive, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.sqlite")
	a, err := Open(context.Background(), path, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, path
}

func TestArchiveStoresEvents(t *testing.T) {
	a, _ := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	a.OnTelemetry(telemetry.Snapshot{Timestamp: base, AmbientPercent: 40, EVCode: "55_N"})
	a.OnHeartRate(session.HeartEvent{Timestamp: base, Available: true, Estimate: heartrate.Estimate{BPM: 72, Strength: 1}})
	// Throttled: within a second of the previous estimate.
	a.OnHeartRate(session.HeartEvent{Timestamp: base.Add(500 * time.Millisecond), Available: true, Estimate: heartrate.Estimate{BPM: 73}})
	a.OnHeartRate(session.HeartEvent{Timestamp: base.Add(2 * time.Second), Available: false})
	a.OnDetections(session.DetectionEvent{Timestamp: base, Seq: 1})
	a.OnDetections(session.DetectionEvent{
		Timestamp:  base,
		Seq:        2,
		Detections: []types.Detection{{Label: "person"}, {Label: "car"}},
		Actionable: []types.Detection{{Label: "person"}},
	})
	a.OnAlert(alert.Alert{Kind: alert.KindDetection, Voice: alert.VoiceTTS, Message: "first", FiredAt: base})
	a.OnAlert(alert.Alert{Kind: alert.KindHeartRate, Voice: alert.VoiceOff, Message: "second", BPM: 72, FiredAt: base.Add(time.Second)})

	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	counts, err := a.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := map[string]int64{"telemetry": 1, "heart_rate": 1, "detections": 1, "alerts": 2}
	for table, n := range want {
		if counts[table] != n {
			t.Errorf("%s rows = %d, want %d", table, counts[table], n)
		}
	}

	alerts, err := a.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].Message != "second" || alerts[0].Voice != alert.VoiceOff || alerts[0].BPM != 72 {
		t.Fatalf("alerts = %+v", alerts)
	}
	if !alerts[1].FiredAt.Equal(base) || alerts[1].Kind != alert.KindDetection {
		t.Fatalf("oldest alert = %+v", alerts[1])
	}
}

func TestArchiveSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.sqlite")
	ctx := context.Background()

	a, err := Open(ctx, path, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a.OnAlert(alert.Alert{Kind: alert.KindTest, Message: "persisted", FiredAt: time.Now()})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	a.OnAlert(alert.Alert{Kind: alert.KindTest, Message: "after close"})
	if err := a.Flush(ctx); err != ErrClosed {
		t.Fatalf("Flush after Close = %v", err)
	}

	b, err := Open(ctx, path, DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	alerts, err := b.RecentAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Message != "persisted" {
		t.Fatalf("alerts = %+v", alerts)
	}
}

func TestPrune(t *testing.T) {
	a, _ := openTest(t)
	ctx := context.Background()
	old := time.UnixMilli(1000)
	a.OnTelemetry(telemetry.Snapshot{Timestamp: old})
	a.OnAlert(alert.Alert{FiredAt: old})
	a.OnAlert(alert.Alert{FiredAt: time.Now()})
	a.Flush(ctx)

	n, err := a.Prune(ctx, time.UnixMilli(2000))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d rows, want 2", n)
	}
}
