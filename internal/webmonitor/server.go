package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/config"
	"github.com/KG-NINJA/YOLOdemo/internal/events"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/recorder"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
)

// SessionControl starts and stops monitoring.
type SessionControl interface {
	Start(ctx context.Context) error
	Stop() error
	State() session.State
	TestAlert(ctx context.Context) (alert.Alert, bool)
}

// Recorder controls the telemetry recording.
type Recorder interface {
	Start(name string) (string, error)
	Stop() (string, error)
	Status() recorder.Status
}

// AlertArchive lists stored alerts.
type AlertArchive interface {
	RecentAlerts(ctx context.Context, limit int) ([]alert.Alert, error)
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

// Deps are the components the server exposes. Recorder, Archive and WebRTC
// are optional; their endpoints answer 503 when nil.
type Deps struct {
	Monitor  *Monitor
	Session  SessionControl
	Settings *config.Store
	History  *telemetry.History
	Recorder Recorder
	Archive  AlertArchive
	WebRTC   OfferHandler
	Metrics  *metrics.Metrics
}

// Server serves the dashboard endpoints.
type Server struct {
	ctx  context.Context
	cfg  Config
	deps Deps
}

// NewServer returns a configured dashboard server. ctx bounds sessions
// started over HTTP.
func NewServer(ctx context.Context, cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Monitor == nil {
		deps.Monitor = NewMonitor(cfg, deps.Metrics)
	}
	if deps.History == nil {
		deps.History = telemetry.NewHistory(telemetry.DefaultHistorySize)
	}
	return &Server{ctx: ctx, cfg: cfg, deps: deps}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.streamHandler(s.deps.Monitor.Detections))
	mux.HandleFunc("/api/telemetry/stream", s.streamHandler(s.deps.Monitor.Telemetry))
	mux.HandleFunc("/api/heart/stream", s.streamHandler(s.deps.Monitor.HeartRate))
	mux.HandleFunc("/api/alerts/stream", s.streamHandler(s.deps.Monitor.Alerts))
	mux.HandleFunc("/api/telemetry.csv", s.handleTelemetryCSV)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)
	mux.HandleFunc("/api/alerts/test", s.handleTestAlert)
	mux.HandleFunc("/api/alerts/recent", s.handleRecentAlerts)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/api/pair.png", s.handlePairQR)
	mux.Handle("/metrics", s.deps.Metrics.Handler())

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Monitor.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	b := s.deps.Monitor.Status
	id, eventCh := b.Subscribe()
	defer b.Unsubscribe(id)

	initial, err := events.EncodeStatus(s.deps.Monitor.Snapshot())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	streamEvents(w, r, eventCh, initial, s.cfg.KeepAlive)
}

func (s *Server) streamHandler(b *events.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, eventCh := b.Subscribe()
		defer b.Unsubscribe(id)
		streamEvents(w, r, eventCh, nil, s.cfg.KeepAlive)
	}
}

func (s *Server) handleTelemetryCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="telemetry_%s.csv"`, time.Now().Format("20060102_150405")))
	_ = s.deps.History.WriteCSV(w)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeJSONWithStatus(w, map[string]any{"error": "settings unavailable"}, http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.deps.Settings.Get())

	case http.MethodPost, http.MethodPut:
		// Fields missing from the body keep their current values.
		next := s.deps.Settings.Get()
		body := http.MaxBytesReader(w, r.Body, s.cfg.MaxSettingsBody)
		if err := json.NewDecoder(body).Decode(&next); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid settings: " + err.Error()}, http.StatusBadRequest)
			return
		}
		applied, err := s.deps.Settings.Update(next)
		if err != nil {
			var cfgErr *config.Error
			if errors.As(err, &cfgErr) {
				writeJSONWithStatus(w, map[string]any{
					"error": cfgErr.Error(),
					"field": cfgErr.Field,
				}, http.StatusBadRequest)
				return
			}
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, applied)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.deps.Session.Start(s.ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	writeJSON(w, s.deps.Session.State())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.deps.Session.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotRunning) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	writeJSON(w, s.deps.Session.State())
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a, fired := s.deps.Session.TestAlert(r.Context())
	if !fired {
		writeJSONWithStatus(w, map[string]any{"fired": false, "error": "cooling down"}, http.StatusTooManyRequests)
		return
	}
	writeJSON(w, map[string]any{"fired": true, "alert": a})
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSONWithStatus(w, map[string]any{"error": "limit must be between 1 and 500"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	// Without an archive the in-memory list is the best we have.
	if s.deps.Archive == nil {
		recent := s.deps.Monitor.Snapshot().RecentAlerts
		if len(recent) > limit {
			recent = recent[:limit]
		}
		writeJSON(w, map[string]any{"alerts": recent, "source": "memory"})
		return
	}
	alerts, err := s.deps.Archive.RecentAlerts(r.Context(), limit)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, map[string]any{"alerts": alerts, "source": "archive"})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder not configured"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.deps.Recorder.Start(r.URL.Query().Get("name"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder not configured"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.deps.Recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.deps.Recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeJSON(w, recorder.Status{})
		return
	}
	writeJSON(w, s.deps.Recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC unavailable"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
