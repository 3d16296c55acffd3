package webmonitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/events"
	"github.com/KG-NINJA/YOLOdemo/internal/labels"
	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
)

// Monitor keeps the latest session output for the dashboard and fans it
// out to stream subscribers. It is a session.Observer and, through Deliver,
// an alert.Sink.
type Monitor struct {
	cfg     Config
	label   func(uint32) string
	metrics *metrics.Metrics

	Status     *events.Broadcaster
	Detections *events.Broadcaster
	Telemetry  *events.Broadcaster
	HeartRate  *events.Broadcaster
	Alerts     *events.Broadcaster

	clients [5]atomic.Int64

	mu        sync.Mutex
	state     session.State
	latest    *session.DetectionEvent
	history   []session.DetectionEvent
	summary   events.Summary
	telemetry *telemetry.Snapshot
	heart     *session.HeartEvent
	alerts    []alert.Alert
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, m *metrics.Metrics) *Monitor {
	if m == nil {
		m = metrics.New()
	}
	mon := &Monitor{
		cfg:        cfg.withDefaults(),
		label:      labels.Name,
		metrics:    m,
		Status:     events.NewBroadcaster("StatusBroadcaster"),
		Detections: events.NewBroadcaster("DetectionBroadcaster"),
		Telemetry:  events.NewBroadcaster("TelemetryBroadcaster"),
		HeartRate:  events.NewBroadcaster("HeartRateBroadcaster"),
		Alerts:     events.NewBroadcaster("AlertBroadcaster"),
	}
	for i, b := range mon.broadcasters() {
		slot := &mon.clients[i]
		b.OnCount = func(n int) {
			slot.Store(int64(n))
			mon.updateClientGauge()
		}
	}
	return mon
}

func (m *Monitor) broadcasters() []*events.Broadcaster {
	return []*events.Broadcaster{m.Status, m.Detections, m.Telemetry, m.HeartRate, m.Alerts}
}

func (m *Monitor) updateClientGauge() {
	var total int64
	for i := range m.clients {
		total += m.clients[i].Load()
	}
	m.metrics.StreamClients.Store(uint64(total))
}

// publish encodes lazily: nothing is serialized without subscribers.
func publish[T any](b *events.Broadcaster, v T, encode func(T) (*events.SerializedEvent, error)) {
	if b.ClientCount() == 0 {
		return
	}
	ev, err := encode(v)
	if err != nil {
		logger.Error("Monitor", "Encode failed: %v", err)
		return
	}
	b.Publish(ev)
}

// OnDetections records a decoded frame.
func (m *Monitor) OnDetections(e session.DetectionEvent) {
	m.mu.Lock()
	m.latest = &e
	m.summary = events.Summarize(e.Detections, m.label)
	if len(e.Detections) > 0 {
		m.history = append([]session.DetectionEvent{e}, m.history...)
		if len(m.history) > m.cfg.HistorySize {
			m.history = m.history[:m.cfg.HistorySize]
		}
	}
	m.mu.Unlock()

	publish(m.Detections, e, events.EncodeDetections)
}

// OnTelemetry records a telemetry snapshot.
func (m *Monitor) OnTelemetry(s telemetry.Snapshot) {
	m.mu.Lock()
	m.telemetry = &s
	m.mu.Unlock()

	publish(m.Telemetry, s, events.EncodeTelemetry)
}

// OnHeartRate records a heart-rate sample.
func (m *Monitor) OnHeartRate(e session.HeartEvent) {
	m.mu.Lock()
	m.heart = &e
	m.mu.Unlock()

	publish(m.HeartRate, e, events.EncodeHeartRate)
}

// OnAlert records every fired alert, voice-off ones included.
func (m *Monitor) OnAlert(a alert.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = append([]alert.Alert{a}, m.alerts...)
	if len(m.alerts) > m.cfg.RecentAlerts {
		m.alerts = m.alerts[:m.cfg.RecentAlerts]
	}
}

// OnState records a lifecycle change. A stop clears the per-session view.
func (m *Monitor) OnState(s session.State) {
	m.mu.Lock()
	m.state = s
	if !s.Running {
		m.latest = nil
		m.history = nil
		m.summary = events.Summary{}
		m.telemetry = nil
		m.heart = nil
	}
	m.mu.Unlock()

	publish(m.Status, m.Snapshot(), events.EncodeStatus)
}

// Deliver pushes an alert to the dashboard alert stream for playback.
func (m *Monitor) Deliver(_ context.Context, a alert.Alert) error {
	publish(m.Alerts, a, events.EncodeAlert)
	return nil
}

// Snapshot returns the current status payload.
func (m *Monitor) Snapshot() events.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := events.Status{
		Session:          m.state,
		DetectionHistory: append([]session.DetectionEvent{}, m.history...),
		Summary:          m.summary,
		RecentAlerts:     append([]alert.Alert{}, m.alerts...),
		Timestamp:        time.Now(),
	}
	if m.latest != nil {
		latest := *m.latest
		st.LatestDetection = &latest
	}
	if m.telemetry != nil {
		snap := *m.telemetry
		st.Telemetry = &snap
		st.Panel = snap.Panel()
	}
	if m.heart != nil {
		heart := *m.heart
		st.HeartRate = &heart
	}
	return st
}

// Run publishes a status event every interval while anyone listens.
func (m *Monitor) Run(ctx context.Context) {
	logger.Info("Monitor", "Starting status broadcaster (interval=%v)", m.cfg.StatusInterval)
	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish(m.Status, m.Snapshot(), events.EncodeStatus)
		}
	}
}

// Close disconnects every stream subscriber.
func (m *Monitor) Close() {
	for _, b := range m.broadcasters() {
		b.Close()
	}
}
