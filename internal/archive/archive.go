// Package archive persists telemetry, heart-rate estimates, detections and
// alerts to a local SQLite file so the dashboard can show recent history
// across restarts.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/session"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("archive closed")

const schema = `
CREATE TABLE IF NOT EXISTS telemetry (
	ts_ms INTEGER NOT NULL,
	ambient REAL, stddev REAL, motion REAL,
	r_mean REAL, g_mean REAL, b_mean REAL,
	ev TEXT
);
CREATE INDEX IF NOT EXISTS telemetry_ts ON telemetry(ts_ms);
CREATE TABLE IF NOT EXISTS heart_rate (
	ts_ms INTEGER NOT NULL,
	bpm INTEGER, strength REAL
);
CREATE TABLE IF NOT EXISTS detections (
	ts_ms INTEGER NOT NULL,
	seq INTEGER, total INTEGER, actionable INTEGER, labels TEXT
);
CREATE TABLE IF NOT EXISTS alerts (
	ts_ms INTEGER NOT NULL,
	kind TEXT, voice TEXT, message TEXT, bpm INTEGER
);
CREATE INDEX IF NOT EXISTS alerts_ts ON alerts(ts_ms);
`

// Options tune what gets written.
type Options struct {
	QueueSize     int
	HeartInterval time.Duration // minimum spacing between stored heart estimates
}

// DefaultOptions stores at most one heart estimate per second.
func DefaultOptions() Options {
	return Options{QueueSize: 256, HeartInterval: time.Second}
}

type write struct {
	query string
	args  []any
	done  chan struct{}
}

// Archive is a session.Observer backed by SQLite. Events are queued and
// written by one goroutine; a full queue drops the event.
type Archive struct {
	session.NopObserver

	db    *sql.DB
	opts  Options
	queue chan write
	wg    sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	lastHeart time.Time

	Dropped atomic.Uint64
	Written atomic.Uint64
}

// Open opens or creates the archive at path.
func Open(ctx context.Context, path string, opts Options) (*Archive, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// One connection serializes all statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Warn("Archive", "SQLite tuning skipped (%s): %v", strings.TrimSpace(pragma), err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}

	a := &Archive{
		db:    db,
		opts:  opts,
		queue: make(chan write, opts.QueueSize),
	}
	a.wg.Add(1)
	go a.run()
	logger.Info("Archive", "Archive opened at %s", path)
	return a, nil
}

func (a *Archive) run() {
	defer a.wg.Done()
	for w := range a.queue {
		if w.done != nil {
			close(w.done)
			continue
		}
		if _, err := a.db.Exec(w.query, w.args...); err != nil {
			logger.Warn("Archive", "Write failed: %v", err)
			continue
		}
		a.Written.Add(1)
	}
}

func (a *Archive) enqueue(query string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- write{query: query, args: args}:
	default:
		a.Dropped.Add(1)
	}
}

// Flush blocks until every event queued before the call is written.
func (a *Archive) Flush(ctx context.Context) error {
	done := make(chan struct{})
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	select {
	case a.queue <- write{done: done}:
	case <-ctx.Done():
		a.mu.Unlock()
		return ctx.Err()
	}
	a.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and closes the database.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return a.db.Close()
}

// OnTelemetry stores a snapshot.
func (a *Archive) OnTelemetry(s telemetry.Snapshot) {
	a.enqueue(`INSERT INTO telemetry (ts_ms, ambient, stddev, motion, r_mean, g_mean, b_mean, ev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Timestamp.UnixMilli(), s.AmbientPercent, s.StdDev, s.MotionScore,
		s.RMean, s.GMean, s.BMean, s.EVCode)
}

// OnHeartRate stores available estimates, throttled to HeartInterval.
func (a *Archive) OnHeartRate(e session.HeartEvent) {
	if !e.Available {
		return
	}
	a.mu.Lock()
	if !a.lastHeart.IsZero() && e.Timestamp.Sub(a.lastHeart) < a.opts.HeartInterval {
		a.mu.Unlock()
		return
	}
	a.lastHeart = e.Timestamp
	a.mu.Unlock()

	a.enqueue(`INSERT INTO heart_rate (ts_ms, bpm, strength) VALUES (?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Estimate.BPM, e.Estimate.Strength)
}

// OnDetections stores frames with at least one actionable detection.
func (a *Archive) OnDetections(e session.DetectionEvent) {
	if len(e.Actionable) == 0 {
		return
	}
	names := make([]string, len(e.Actionable))
	for i, d := range e.Actionable {
		names[i] = d.Label
	}
	a.enqueue(`INSERT INTO detections (ts_ms, seq, total, actionable, labels) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Seq, len(e.Detections), len(e.Actionable), strings.Join(names, ","))
}

// OnAlert stores every fired alert, including voice-off ones.
func (a *Archive) OnAlert(al alert.Alert) {
	a.enqueue(`INSERT INTO alerts (ts_ms, kind, voice, message, bpm) VALUES (?, ?, ?, ?, ?)`,
		al.FiredAt.UnixMilli(), string(al.Kind), string(al.Voice), al.Message, al.BPM)
}

// RecentAlerts returns up to limit alerts, newest first.
func (a *Archive) RecentAlerts(ctx context.Context, limit int) ([]alert.Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT ts_ms, kind, voice, message, bpm FROM alerts ORDER BY ts_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		var (
			ts          int64
			kind, voice string
			al          alert.Alert
		)
		if err := rows.Scan(&ts, &kind, &voice, &al.Message, &al.BPM); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		al.FiredAt = time.UnixMilli(ts)
		al.Kind = alert.Kind(kind)
		al.Voice = alert.VoiceMode(voice)
		out = append(out, al)
	}
	return out, rows.Err()
}

// Counts returns the number of stored rows per table.
func (a *Archive) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, table := range []string{"telemetry", "heart_rate", "detections", "alerts"} {
		var n int64
		if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Prune deletes rows older than cutoff.
func (a *Archive) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"telemetry", "heart_rate", "detections", "alerts"} {
		res, err := a.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts_ms < ?", cutoff.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
