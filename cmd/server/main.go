package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/archive"
	"github.com/KG-NINJA/YOLOdemo/internal/capture"
	"github.com/KG-NINJA/YOLOdemo/internal/config"
	"github.com/KG-NINJA/YOLOdemo/internal/inference"
	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/recorder"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
	"github.com/KG-NINJA/YOLOdemo/internal/webmonitor"
	"github.com/KG-NINJA/YOLOdemo/internal/webrtc"
)

var (
	// Command-line flags
	httpAddr      = flag.String("http", ":8080", "Dashboard HTTP address")
	metricsAddr   = flag.String("metrics", "", "Dedicated metrics server address (dashboard always serves /metrics)")
	pprofAddr     = flag.String("pprof", "", "pprof server address (disabled when empty)")
	publicURL     = flag.String("public-url", "", "Dashboard URL encoded in the pairing QR code")
	corsOrigin    = flag.String("cors-origin", "", "Allowed CORS origin (disabled when empty)")
	framesDir     = flag.String("frames", "", "Directory of still images to cycle through as the camera (test pattern when empty)")
	inferenceURL  = flag.String("inference-url", "", "Detector endpoint (detection disabled when empty)")
	inferTimeout  = flag.Duration("inference-timeout", 2*time.Second, "Per-frame inference timeout")
	targetSize    = flag.Int("target-size", 640, "Detector input size")
	dbPath        = flag.String("db", "./monitor.sqlite", "SQLite archive path (disabled when empty)")
	retention     = flag.Duration("retention", 7*24*time.Hour, "How long archived rows are kept")
	recordPath    = flag.String("record-path", "./recordings", "Telemetry recording output path")
	maxClients    = flag.Int("max-clients", 4, "Maximum WebRTC peers")
	stunServers   = flag.String("stun", "", "STUN server URLs (comma-separated)")
	autostart     = flag.Bool("autostart", false, "Start monitoring immediately")
	threshold     = flag.Float64("threshold", config.Default().Threshold, "Detection score threshold [0,1]")
	classes       = flag.String("classes", strings.Join(config.Default().Classes, ","), "Watched classes (comma-separated)")
	zoneMargin    = flag.Float64("zone-margin", 0, "Zone margin percent [0,50]")
	minArea       = flag.Float64("min-area", 0, "Minimum box area percent [0,100]")
	cooldown      = flag.Float64("cooldown", config.Default().CooldownSec, "Alert cooldown in seconds (>= 1)")
	voiceMode     = flag.String("voice", string(config.Default().VoiceMode), "Voice mode (tts, beep, off)")
	warningText   = flag.String("warning", config.Default().WarningText, "Warning text spoken before detections")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")
	statusEvery   = flag.Duration("status-interval", webmonitor.DefaultConfig().StatusInterval, "Status stream interval")
	historyLength = flag.Int("telemetry-history", telemetry.DefaultHistorySize, "Telemetry snapshots kept for CSV export")
)

// Server wires the monitoring session to its transports.
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metrics    *metrics.Metrics
	session    *session.Controller
	monitor    *webmonitor.Monitor
	webrtc     *webrtc.Server
	recorder   *recorder.Recorder
	archive    *archive.Archive
	httpServer *http.Server
}

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Zone monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	settings := config.Settings{
		Threshold:     *threshold,
		Classes:       splitList(*classes),
		ZoneMarginPct: *zoneMargin,
		MinAreaPct:    *minArea,
		CooldownSec:   *cooldown,
		VoiceMode:     alert.VoiceMode(*voiceMode),
		WarningText:   *warningText,
	}

	srv, err := NewServer(settings)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// NewServer creates the monitor server from flags and initial settings.
func NewServer(settings config.Settings) (*Server, error) {
	store, err := config.NewStore(settings)
	if err != nil {
		return nil, err
	}
	store.Watch(func(s config.Settings) {
		logger.Info("Main", "Settings updated: threshold=%.2f classes=%v cooldown=%.1fs voice=%s",
			s.Threshold, s.Classes, s.CooldownSec, s.VoiceMode)
	})

	source, err := newSource(*framesDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	webCfg := webmonitor.DefaultConfig()
	webCfg.Addr = *httpAddr
	webCfg.PublicURL = *publicURL
	webCfg.StatusInterval = *statusEvery
	monitor := webmonitor.NewMonitor(webCfg, m)

	rtc := webrtc.NewServer(splitList(*stunServers), *maxClients, m)
	rec := recorder.NewRecorder(*recordPath, m)
	history := telemetry.NewHistory(*historyLength)

	var arch *archive.Archive
	if *dbPath != "" {
		arch, err = archive.Open(ctx, *dbPath, archive.DefaultOptions())
		if err != nil {
			cancel()
			return nil, err
		}
	}

	deps := session.Deps{
		Source:     source,
		Settings:   store,
		Dispatcher: alert.NewDispatcher(alert.MultiSink{alert.LogSink{}, monitor, rtc}, m),
		History:    history,
		Metrics:    m,
	}
	if *inferenceURL != "" {
		deps.Engine = inference.NewHTTPEngine(*inferenceURL, *inferTimeout)
	} else {
		logger.Warn("Main", "No inference URL configured; running telemetry and heart rate only")
	}
	ctrl := session.New(session.Config{
		TargetSize:       *targetSize,
		InferenceTimeout: *inferTimeout,
	}, deps)
	ctrl.AddObserver(monitor)
	ctrl.AddObserver(rec)
	ctrl.AddObserver(rtc)
	if arch != nil {
		ctrl.AddObserver(arch)
	}

	webDeps := webmonitor.Deps{
		Monitor:  monitor,
		Session:  ctrl,
		Settings: store,
		History:  history,
		Recorder: rec,
		WebRTC:   rtc,
		Metrics:  m,
	}
	if arch != nil {
		webDeps.Archive = arch
	}
	dashboard := webmonitor.NewServer(ctx, webCfg, webDeps)

	return &Server{
		ctx:      ctx,
		cancel:   cancel,
		metrics:  m,
		session:  ctrl,
		monitor:  monitor,
		webrtc:   rtc,
		recorder: rec,
		archive:  arch,
		httpServer: &http.Server{
			Addr:              *httpAddr,
			Handler:           corsMiddleware(*corsOrigin, dashboard.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting zone monitor...")
	logger.Info("Main", "  HTTP server: %s", *httpAddr)
	logger.Info("Main", "  Frames: %s", orDefault(*framesDir, "test pattern"))
	logger.Info("Main", "  Inference: %s", orDefault(*inferenceURL, "disabled"))
	logger.Info("Main", "  Archive: %s", orDefault(*dbPath, "disabled"))
	logger.Info("Main", "  Recording path: %s", *recordPath)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Error("Main", "pprof server error: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := s.metrics.StartServer(*metricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", *httpAddr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(s.ctx)
	}()

	if s.archive != nil && *retention > 0 {
		s.wg.Add(1)
		go s.pruneArchive()
	}

	if *autostart {
		if err := s.session.Start(s.ctx); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
	}

	logger.Info("Main", "Server started successfully")
	return nil
}

// pruneArchive drops rows older than the retention window once an hour.
func (s *Server) pruneArchive() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := s.archive.Prune(s.ctx, time.Now().Add(-*retention)); err != nil {
			logger.Warn("Main", "Archive prune failed: %v", err)
		} else if n > 0 {
			logger.Info("Main", "Pruned %d archived rows", n)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	if s.session.Running() {
		if err := s.session.Stop(); err != nil {
			logger.Warn("Main", "Session stop: %v", err)
		}
	}

	// Cancel context to stop goroutines
	s.cancel()
	s.wg.Wait()

	// Close components
	s.monitor.Close()
	s.recorder.Close()
	s.webrtc.Close()
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			logger.Warn("Main", "Archive close: %v", err)
		}
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// newSource opens the image directory, or a flat gray test pattern.
func newSource(dir string) (session.FrameSource, error) {
	if dir != "" {
		src, err := capture.NewDirectorySource(dir)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 128, G: 128, B: 128, A: 255}}, image.Point{}, draw.Src)
	return capture.NewStaticSource(img), nil
}

// corsMiddleware adds CORS headers for origin; an empty origin disables it.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
