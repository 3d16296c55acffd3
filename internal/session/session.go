// Package session runs the monitoring loop: a frame loop feeding the detector
// plus two timers sampling telemetry and heart rate from the current frame.
//
// All mutable session state lives in Controller behind one mutex, so ticks
// never interleave. Stop bumps a generation counter and resets the state in
// the same critical section; ticks from an older generation are no-ops.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/config"
	"github.com/KG-NINJA/YOLOdemo/internal/decoder"
	"github.com/KG-NINJA/YOLOdemo/internal/filter"
	"github.com/KG-NINJA/YOLOdemo/internal/heartrate"
	"github.com/KG-NINJA/YOLOdemo/internal/labels"
	"github.com/KG-NINJA/YOLOdemo/internal/letterbox"
	"github.com/KG-NINJA/YOLOdemo/internal/logger"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
)

// FrameSource supplies the latest camera frame.
type FrameSource interface {
	Latest(ctx context.Context) (image.Image, error)
}

// Engine runs the detector on a (1, 3, S, S) input tensor.
type Engine interface {
	Infer(ctx context.Context, in decoder.Tensor) (decoder.Tensor, error)
}

// Config controls loop pacing.
type Config struct {
	TargetSize        int
	FrameInterval     time.Duration
	TelemetryInterval time.Duration
	HeartInterval     time.Duration
	InferenceTimeout  time.Duration
}

// DefaultConfig returns the dashboard cadence: ~30 fps frames, telemetry
// every 300 ms and heart samples every 50 ms.
func DefaultConfig() Config {
	return Config{
		TargetSize:        letterbox.DefaultTargetSize,
		FrameInterval:     33 * time.Millisecond,
		TelemetryInterval: 300 * time.Millisecond,
		HeartInterval:     50 * time.Millisecond,
		InferenceTimeout:  2 * time.Second,
	}
}

// Deps are the collaborators a Controller drives. Engine may be nil, in which
// case only telemetry and heart rate run.
type Deps struct {
	Source     FrameSource
	Engine     Engine
	Decoder    *decoder.Decoder
	Settings   *config.Store
	Dispatcher *alert.Dispatcher
	History    *telemetry.History
	Metrics    *metrics.Metrics
	Label      func(uint32) string
}

// Controller owns one monitoring session at a time.
type Controller struct {
	cfg  Config
	deps Deps

	obsMu     sync.RWMutex
	observers []Observer

	// life serializes Start and Stop; wg tracks the loops of one session.
	life sync.Mutex
	wg   sync.WaitGroup

	mu        sync.Mutex
	gen       uint64
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	frame     image.Image
	seq       uint64
	conf      float64 // mean score of the last frame's detections over threshold
	tele      *telemetry.Engine
	heart     *heartrate.Estimator
}

// New creates a stopped controller.
func New(cfg Config, deps Deps) *Controller {
	def := DefaultConfig()
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = def.TargetSize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = def.TelemetryInterval
	}
	if cfg.HeartInterval <= 0 {
		cfg.HeartInterval = def.HeartInterval
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = def.InferenceTimeout
	}
	if deps.Decoder == nil {
		deps.Decoder = decoder.New()
	}
	if deps.Label == nil {
		deps.Label = labels.Name
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = alert.NewDispatcher(alert.LogSink{}, deps.Metrics)
	}
	if deps.Settings == nil {
		deps.Settings, _ = config.NewStore(config.Default())
	}
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		tele:  telemetry.NewEngine(),
		heart: heartrate.New(),
	}
}

// AddObserver registers o for all future events.
func (c *Controller) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) each(fn func(Observer)) {
	c.obsMu.RLock()
	obs := c.observers
	c.obsMu.RUnlock()
	for _, o := range obs {
		fn(o)
	}
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Running:    c.running,
		Generation: c.gen,
		StartedAt:  c.startedAt,
		Changed:    time.Now(),
	}
}

// Start launches the frame loop and both timers.
func (c *Controller) Start(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.deps.Source == nil {
		c.mu.Unlock()
		return fmt.Errorf("session: no frame source")
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.startedAt = time.Now()
	state := c.stateLocked()
	c.mu.Unlock()

	metrics.SetBool(&c.deps.Metrics.SessionActive, true)
	logger.Info("Session", "Session %d started (detector=%v)", gen, c.deps.Engine != nil)

	c.wg.Add(3)
	go c.loop(runCtx, c.cfg.FrameInterval, func(ctx context.Context) { c.frameTick(ctx, gen) })
	go c.loop(runCtx, c.cfg.TelemetryInterval, func(context.Context) { c.telemetryTick(gen, time.Now()) })
	go c.loop(runCtx, c.cfg.HeartInterval, func(ctx context.Context) { c.heartTick(ctx, gen, time.Now()) })

	c.each(func(o Observer) { o.OnState(state) })
	return nil
}

// Stop cancels the loops and resets all session state atomically, then waits
// for the loops to exit.
func (c *Controller) Stop() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.gen++
	c.running = false
	c.cancel()
	c.cancel = nil
	c.resetLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	c.wg.Wait()
	metrics.SetBool(&c.deps.Metrics.SessionActive, false)
	logger.Info("Session", "Session stopped")
	c.each(func(o Observer) { o.OnState(state) })
	return nil
}

func (c *Controller) resetLocked() {
	c.tele.Reset()
	c.heart.Reset()
	c.deps.Dispatcher.Reset()
	c.frame = nil
	c.conf = 0
	c.startedAt = time.Time{}
}

func (c *Controller) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// current returns the generation if it is still running.
func (c *Controller) current(gen uint64) bool {
	return c.running && c.gen == gen
}

// Generation returns the active session generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// frameTick grabs a frame, runs inference outside the lock and then decodes,
// filters and dispatches under it.
func (c *Controller) frameTick(ctx context.Context, gen uint64) error {
	m := c.deps.Metrics
	start := time.Now()

	img, err := c.deps.Source.Latest(ctx)
	if err != nil {
		m.ReadErrors.Add(1)
		logger.Debug("Session", "Frame read failed: %v", err)
		return err
	}

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return nil
	}
	c.frame = img
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	m.FramesRead.Add(1)

	if c.deps.Engine == nil {
		return nil
	}

	b := img.Bounds()
	meta, err := letterbox.Compute(b.Dx(), b.Dy(), c.cfg.TargetSize)
	if err != nil {
		m.FramesSkipped.Add(1)
		logger.Warn("Session", "Frame %d skipped: %v", seq, err)
		return err
	}
	dims, data := letterbox.Tensor(letterbox.Prepare(img, meta))

	inferCtx, cancel := context.WithTimeout(ctx, c.cfg.InferenceTimeout)
	inferStart := time.Now()
	out, err := c.deps.Engine.Infer(inferCtx, decoder.Tensor{Dims: dims, Data: data})
	cancel()
	inferDur := time.Since(inferStart)
	m.UpdateInferenceLatency(inferDur)
	if err != nil {
		m.InferenceErrors.Add(1)
		m.FramesSkipped.Add(1)
		if ctx.Err() == nil {
			logger.Warn("Session", "Inference failed on frame %d: %v", seq, err)
		}
		return err
	}

	res, err := c.deps.Decoder.Decode(out, meta)
	if err != nil {
		m.DecodeErrors.Add(1)
		m.FramesSkipped.Add(1)
		logger.Warn("Session", "Decode failed on frame %d: %v", seq, err)
		return err
	}

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return nil
	}
	settings := c.deps.Settings.Get()
	dets := res.Detections()
	for i := range dets {
		dets[i].Label = c.deps.Label(dets[i].ClassID)
	}
	c.conf = meanScore(dets, settings.Threshold)
	criteria := settings.Criteria(b.Dx(), b.Dy())
	criteria.Label = c.deps.Label
	actionable := filter.Apply(dets, criteria)

	policy := settings.Policy()
	policy.Label = c.deps.Label
	fired, ok := c.deps.Dispatcher.Detections(ctx, time.Now(), actionable, policy)
	c.mu.Unlock()

	m.FramesProcessed.Add(1)
	m.Detections.Add(uint64(len(dets)))
	m.Actionable.Add(uint64(len(actionable)))
	m.UpdatePipelineLatency(time.Since(start))

	ev := DetectionEvent{
		Seq:         seq,
		Timestamp:   time.Now(),
		FrameWidth:  b.Dx(),
		FrameHeight: b.Dy(),
		Layout:      res.Layout.String(),
		Detections:  dets,
		Actionable:  actionable,
		InferenceMs: inferDur.Milliseconds(),
	}
	c.each(func(o Observer) { o.OnDetections(ev) })
	if ok {
		c.each(func(o Observer) { o.OnAlert(fired) })
	}
	return nil
}

// telemetryTick computes one snapshot from the current frame.
func (c *Controller) telemetryTick(gen uint64, now time.Time) {
	c.mu.Lock()
	if !c.current(gen) || c.frame == nil {
		c.mu.Unlock()
		return
	}
	sample := types.FrameFromImage(telemetry.Downsample(c.frame), c.seq, now)
	snap, err := c.tele.Tick(sample)
	conf := c.conf
	c.mu.Unlock()

	if err != nil {
		c.deps.Metrics.TelemetryErrors.Add(1)
		logger.Warn("Session", "Telemetry tick failed: %v", err)
		return
	}
	c.deps.Metrics.TelemetryTicks.Add(1)
	snap = snap.WithConfidence(conf)
	if c.deps.History != nil {
		c.deps.History.Add(snap)
	}
	c.each(func(o Observer) { o.OnTelemetry(snap) })
}

// heartTick adds one green sample and fires a heart alert when warranted.
func (c *Controller) heartTick(ctx context.Context, gen uint64, now time.Time) {
	c.mu.Lock()
	if !c.current(gen) || c.frame == nil {
		c.mu.Unlock()
		return
	}
	sample := types.FrameFromImage(telemetry.Downsample(c.frame), c.seq, now)
	green, err := heartrate.SampleGreen(sample)
	if err != nil {
		c.mu.Unlock()
		c.deps.Metrics.TelemetryErrors.Add(1)
		return
	}
	c.heart.Add(float64(now.UnixNano())/1e6, green)
	est, ok := c.heart.Estimate()
	n := c.heart.Len()

	var fired alert.Alert
	var alerted bool
	if ok {
		policy := c.deps.Settings.Get().Policy()
		fired, alerted = c.deps.Dispatcher.HeartRate(ctx, now, est, policy)
	}
	c.mu.Unlock()

	m := c.deps.Metrics
	m.HeartSamples.Add(1)
	ev := HeartEvent{Timestamp: now, Green: green, Samples: n, Available: ok}
	if ok {
		m.HeartEstimates.Add(1)
		m.LastBPM.Store(uint64(est.BPM))
		ev.Estimate = est
		ev.Phrase = heartrate.Phrase(est.BPM)
	}
	c.each(func(o Observer) { o.OnHeartRate(ev) })
	if alerted {
		c.each(func(o Observer) { o.OnAlert(fired) })
	}
}

func meanScore(dets []types.Detection, threshold float64) float64 {
	var sum float64
	var n int
	for _, d := range dets {
		if d.Score >= threshold {
			sum += d.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// TestAlert fires the voice check alert; it works with or without a session.
func (c *Controller) TestAlert(ctx context.Context) (alert.Alert, bool) {
	c.mu.Lock()
	a, ok := c.deps.Dispatcher.Test(ctx, time.Now(), c.deps.Settings.Get().Policy())
	c.mu.Unlock()
	if ok {
		c.each(func(o Observer) { o.OnAlert(a) })
	}
	return a, ok
}
