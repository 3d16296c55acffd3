// Package recorder streams telemetry snapshots to a CSV file while a
// recording is active.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes telemetry rows to file. It is a session.Observer.
type Recorder struct {
	session.NopObserver

	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	rowCount     uint64
	bytesWritten uint64
	startTime    time.Time
	rowChan      chan telemetry.Snapshot
	done         chan struct{}
	wg           sync.WaitGroup

	metrics *metrics.Metrics
}

// NewRecorder creates a recorder that writes under basePath.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	if m == nil {
		m = metrics.New()
	}
	return &Recorder{
		basePath: basePath,
		metrics:  m,
	}
}

// Start opens a new CSV file and returns its path. An empty name gets a
// timestamped one.
func (r *Recorder) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if name == "" {
		name = fmt.Sprintf("telemetry_%s.csv", time.Now().Format("20060102_150405"))
	}
	name = filepath.Base(name)
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}
	path := filepath.Join(r.basePath, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = path
	r.recording = true
	r.rowCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.rowChan = make(chan telemetry.Snapshot, 64)
	r.done = make(chan struct{})

	cw := csv.NewWriter(&countingWriter{r: r})
	if err := cw.Write(telemetry.CSVHeader); err != nil {
		file.Close()
		r.recording = false
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	cw.Flush()

	r.wg.Add(1)
	go r.writeRows(cw, r.rowChan, r.done)

	metrics.SetBool(&r.metrics.RecordingActive, true)
	r.metrics.RecordingRows.Store(0)
	r.metrics.RecordingBytes.Store(r.bytesWritten)
	logger.Info("Recorder", "Recording telemetry to %s", path)
	return path, nil
}

// Stop ends the recording and returns the file path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	close(r.done)
	r.mu.Unlock()

	// Wait for write goroutine to finish
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.SetBool(&r.metrics.RecordingActive, false)
	path := r.filename
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return path, fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return path, fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}
	logger.Info("Recorder", "Recording stopped: %s (%d rows, %d bytes)", path, r.rowCount, r.bytesWritten)
	return path, nil
}

// OnTelemetry queues s for writing (non-blocking).
func (r *Recorder) OnTelemetry(s telemetry.Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return
	}
	select {
	case r.rowChan <- s:
	default:
		logger.Debug("Recorder", "Row buffer full, dropping snapshot")
	}
}

func (r *Recorder) writeRows(cw *csv.Writer, rows <-chan telemetry.Snapshot, done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case s := <-rows:
			r.writeRow(cw, s)
		case <-done:
			// Drain remaining rows
			for len(rows) > 0 {
				r.writeRow(cw, <-rows)
			}
			return
		}
	}
}

func (r *Recorder) writeRow(cw *csv.Writer, s telemetry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}
	if err := cw.Write(telemetry.Record(s)); err != nil {
		logger.Warn("Recorder", "Write failed: %v", err)
		return
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.Warn("Recorder", "Flush failed: %v", err)
		return
	}
	r.rowCount++
	r.metrics.RecordingRows.Store(r.rowCount)
}

// countingWriter writes to the open file and tracks its size. r.mu must be held.
type countingWriter struct {
	r *Recorder
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.r.file.Write(p)
	w.r.addBytes(n)
	return n, err
}

func (r *Recorder) addBytes(n int) {
	if n <= 0 {
		return
	}
	r.bytesWritten += uint64(n)
	r.metrics.RecordingBytes.Store(r.bytesWritten)
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status holds the current recording status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename,omitempty"`
	RowCount     uint64    `json:"row_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}

// Status returns the current recording status
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		RowCount:     r.rowCount,
		BytesWritten: r.bytesWritten,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}
