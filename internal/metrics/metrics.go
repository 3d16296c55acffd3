package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Frame loop counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64 // inference or decode failed
	Detections      atomic.Uint64 // decoded candidates
	Actionable      atomic.Uint64 // candidates that passed the filter

	// Error counters
	ReadErrors      atomic.Uint64
	InferenceErrors atomic.Uint64
	DecodeErrors    atomic.Uint64
	TelemetryErrors atomic.Uint64

	// Telemetry and heart rate
	TelemetryTicks atomic.Uint64
	HeartSamples   atomic.Uint64
	HeartEstimates atomic.Uint64
	LastBPM        atomic.Uint64

	// Alerts
	AlertsFired         atomic.Uint64
	AlertsSuppressed    atomic.Uint64
	AlertDeliveryErrors atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Last inference round trip in ms
	PipelineLatencyMs  atomic.Uint64 // Last full frame tick in ms

	// Event consumers
	StreamClients atomic.Uint64 // SSE subscribers
	ActivePeers   atomic.Uint64 // WebRTC data channel peers
	TotalPeers    atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingRows   atomic.Uint64
	RecordingBytes  atomic.Uint64

	// Session state
	SessionActive atomic.Uint64 // 0 = stopped, 1 = running

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

// gauge exposes an atomic counter as a Prometheus gauge
func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "monitor",
			Name:      name,
			Help:      help,
		},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	// Frame loop
	m.gauge("frames_read_total", "Total frames read from the camera source", &m.FramesRead)
	m.gauge("frames_processed_total", "Total frames decoded and filtered", &m.FramesProcessed)
	m.gauge("frames_skipped_total", "Total frames skipped after an inference or decode failure", &m.FramesSkipped)
	m.gauge("detections_total", "Total decoded detections", &m.Detections)
	m.gauge("actionable_detections_total", "Total detections that passed the zone/class/area filter", &m.Actionable)

	// Errors
	m.gauge("read_errors_total", "Total camera read errors", &m.ReadErrors)
	m.gauge("inference_errors_total", "Total inference engine errors", &m.InferenceErrors)
	m.gauge("decode_errors_total", "Total malformed output tensors", &m.DecodeErrors)
	m.gauge("telemetry_errors_total", "Total rejected telemetry samples", &m.TelemetryErrors)

	// Telemetry and heart rate
	m.gauge("telemetry_ticks_total", "Total telemetry snapshots computed", &m.TelemetryTicks)
	m.gauge("heart_samples_total", "Total heart-rate samples collected", &m.HeartSamples)
	m.gauge("heart_estimates_total", "Total heart-rate estimates produced", &m.HeartEstimates)
	m.gauge("heart_bpm", "Last estimated heart rate in beats per minute", &m.LastBPM)

	// Alerts
	m.gauge("alerts_fired_total", "Total alerts fired", &m.AlertsFired)
	m.gauge("alerts_suppressed_total", "Total alerts suppressed by cooldown", &m.AlertsSuppressed)
	m.gauge("alert_delivery_errors_total", "Total alert sink failures", &m.AlertDeliveryErrors)

	// Latency
	m.gauge("inference_latency_ms", "Last inference latency in milliseconds", &m.InferenceLatencyMs)
	m.gauge("pipeline_latency_ms", "Last frame tick latency in milliseconds", &m.PipelineLatencyMs)

	// Consumers
	m.gauge("stream_clients", "Number of connected event stream clients", &m.StreamClients)
	m.gauge("webrtc_active_peers", "Number of active WebRTC peers", &m.ActivePeers)
	m.gauge("webrtc_total_peers", "Total WebRTC peers connected", &m.TotalPeers)

	// Recording and session
	m.gauge("recording_active", "Telemetry recording active (0=inactive, 1=active)", &m.RecordingActive)
	m.gauge("recording_rows", "Telemetry rows written to the current recording", &m.RecordingRows)
	m.gauge("recording_bytes", "Bytes written to the current recording", &m.RecordingBytes)
	m.gauge("session_active", "Monitoring session running (0=stopped, 1=running)", &m.SessionActive)
}

// UpdateInferenceLatency records the last inference round trip
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdatePipelineLatency records the duration of the last frame tick
func (m *Metrics) UpdatePipelineLatency(d time.Duration) {
	m.PipelineLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetBool stores 1 or 0
func SetBool(v *atomic.Uint64, on bool) {
	if on {
		v.Store(1)
		return
	}
	v.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a dedicated metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
