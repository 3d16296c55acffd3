package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/capture"
	"github.com/KG-NINJA/YOLOdemo/internal/config"
	"github.com/KG-NINJA/YOLOdemo/internal/decoder"
	"github.com/KG-NINJA/YOLOdemo/internal/metrics"
	"github.com/KG-NINJA/YOLOdemo/internal/telemetry"
)

type fakeEngine struct {
	mu    sync.Mutex
	err   error
	calls int
}

// Infer returns one "person" candidate centered in a 640 letterbox.
func (f *fakeEngine) Infer(_ context.Context, in decoder.Tensor) (decoder.Tensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decoder.Tensor{}, f.err
	}
	data := make([]float32, 84)
	data[0], data[1], data[2], data[3] = 320, 320, 40, 40
	data[4] = 0.9
	return decoder.Tensor{Dims: []int{1, 84, 1}, Data: data}, nil
}

func (f *fakeEngine) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type recorder struct {
	mu         sync.Mutex
	detections []DetectionEvent
	telemetry  []telemetry.Snapshot
	heart      []HeartEvent
	alerts     []alert.Alert
	states     []State
}

func (r *recorder) OnDetections(e DetectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detections = append(r.detections, e)
}

func (r *recorder) OnTelemetry(s telemetry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, s)
}

func (r *recorder) OnHeartRate(e HeartEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heart = append(r.heart, e)
}

func (r *recorder) OnAlert(a alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recorder) OnState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) counts() (dets, tele, heart, alerts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.detections), len(r.telemetry), len(r.heart), len(r.alerts)
}

func grayFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 90, G: 120, B: 90, A: 255})
		}
	}
	return img
}

// newTestController returns a controller whose loops never tick on their own.
func newTestController(t *testing.T, engine Engine) (*Controller, *recorder, *metrics.Metrics) {
	t.Helper()
	store, err := config.NewStore(config.Default())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m := metrics.New()
	c := New(Config{
		FrameInterval:     time.Hour,
		TelemetryInterval: time.Hour,
		HeartInterval:     time.Hour,
	}, Deps{
		Source:     capture.NewStaticSource(grayFrame(1280, 720)),
		Engine:     engine,
		Settings:   store,
		Dispatcher: alert.NewDispatcher(nil, m),
		History:    telemetry.NewHistory(0),
		Metrics:    m,
	})
	rec := &recorder{}
	c.AddObserver(rec)
	return c, rec, m
}

func TestFrameTickDetectsAndAlerts(t *testing.T) {
	c, rec, m := newTestController(t, &fakeEngine{})
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	gen := c.Generation()
	if err := c.frameTick(ctx, gen); err != nil {
		t.Fatalf("frameTick: %v", err)
	}
	if err := c.frameTick(ctx, gen); err != nil {
		t.Fatalf("frameTick: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.detections) != 2 {
		t.Fatalf("detection events = %d, want 2", len(rec.detections))
	}
	ev := rec.detections[0]
	if len(ev.Actionable) != 1 || ev.Actionable[0].Label != "person" {
		t.Fatalf("actionable = %+v", ev.Actionable)
	}
	cx, cy := ev.Actionable[0].Box.Center()
	if math.Abs(cx-640) > 1 || math.Abs(cy-360) > 1 {
		t.Fatalf("center = (%v, %v)", cx, cy)
	}
	if len(rec.alerts) != 1 || rec.alerts[0].Kind != alert.KindDetection {
		t.Fatalf("alerts = %+v, want one detection alert", rec.alerts)
	}
	if m.FramesProcessed.Load() != 2 || m.AlertsSuppressed.Load() != 1 {
		t.Fatalf("processed=%d suppressed=%d", m.FramesProcessed.Load(), m.AlertsSuppressed.Load())
	}
}

func TestTelemetryCarriesDetectionConfidence(t *testing.T) {
	engine := &fakeEngine{}
	engine.fail(errors.New("warming up"))
	c, rec, _ := newTestController(t, engine)
	ctx := context.Background()
	c.Start(ctx)
	defer c.Stop()

	gen := c.Generation()
	c.frameTick(ctx, gen)
	c.telemetryTick(gen, time.Now())
	engine.fail(nil)
	if err := c.frameTick(ctx, gen); err != nil {
		t.Fatalf("frameTick: %v", err)
	}
	c.telemetryTick(gen, time.Now())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.telemetry) != 2 {
		t.Fatalf("telemetry events = %d", len(rec.telemetry))
	}
	// No frame decoded yet: nothing to be confident about.
	if before := rec.telemetry[0]; before.Confidence != 0 || before.EVCode != "55_G" {
		t.Fatalf("before detections: conf %v ev %q", before.Confidence, before.EVCode)
	}
	after := rec.telemetry[1]
	if math.Abs(after.Confidence-0.9) > 1e-6 || after.EVCode != "60_G_HIGH_CONF" {
		t.Fatalf("after detections: conf %v ev %q", after.Confidence, after.EVCode)
	}
}

type ctxKey struct{}

func TestHeartAlertUsesSessionContext(t *testing.T) {
	c, rec, m := newTestController(t, nil)
	var delivered []context.Context
	c.deps.Dispatcher = alert.NewDispatcher(alert.SinkFunc(func(ctx context.Context, _ alert.Alert) error {
		delivered = append(delivered, ctx)
		return nil
	}), m)

	ctx := context.WithValue(context.Background(), ctxKey{}, "session")
	c.Start(context.Background())
	defer c.Stop()
	gen := c.Generation()

	// 1.2 Hz pulse in the green channel, sampled every 50 ms.
	start := time.Now()
	for i := 0; i < 100; i++ {
		ts := start.Add(time.Duration(i) * 50 * time.Millisecond)
		g := 120 + 20*math.Sin(2*math.Pi*1.2*ts.Sub(start).Seconds())
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = 90, uint8(math.Round(g)), 90, 255
		}
		c.mu.Lock()
		c.frame = img
		c.mu.Unlock()
		c.heartTick(ctx, gen, ts)
	}

	if len(delivered) != 1 {
		t.Fatalf("heart alerts delivered = %d, want 1", len(delivered))
	}
	if delivered[0].Value(ctxKey{}) != "session" {
		t.Fatal("heart alert was not delivered with the loop context")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if n := len(rec.alerts); n != 1 || rec.alerts[0].Kind != alert.KindHeartRate {
		t.Fatalf("alerts = %+v", rec.alerts)
	}
}

func TestInferenceErrorSkipsFrame(t *testing.T) {
	engine := &fakeEngine{}
	engine.fail(errors.New("model crashed"))
	c, rec, m := newTestController(t, engine)
	ctx := context.Background()
	c.Start(ctx)
	defer c.Stop()

	if err := c.frameTick(ctx, c.Generation()); err == nil {
		t.Fatal("frameTick returned nil on inference failure")
	}
	if d, _, _, _ := rec.counts(); d != 0 {
		t.Fatal("skipped frame produced a detection event")
	}
	if m.FramesSkipped.Load() != 1 || m.InferenceErrors.Load() != 1 {
		t.Fatalf("skipped=%d errors=%d", m.FramesSkipped.Load(), m.InferenceErrors.Load())
	}

	engine.fail(nil)
	if err := c.frameTick(ctx, c.Generation()); err != nil {
		t.Fatalf("frameTick after recovery: %v", err)
	}
	if d, _, _, _ := rec.counts(); d != 1 {
		t.Fatal("loop did not recover after inference failure")
	}
}

func TestStaleTicksAreNoops(t *testing.T) {
	engine := &fakeEngine{}
	c, rec, _ := newTestController(t, engine)
	ctx := context.Background()
	c.Start(ctx)
	gen := c.Generation()
	c.frameTick(ctx, gen)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	before := engine.calls
	c.frameTick(ctx, gen)
	c.telemetryTick(gen, time.Now())
	c.heartTick(ctx, gen, time.Now())

	if engine.calls != before {
		t.Fatal("stale frame tick reached the engine")
	}
	d, tele, heart, _ := rec.counts()
	if d != 1 || tele != 0 || heart != 0 {
		t.Fatalf("events after stop: detections=%d telemetry=%d heart=%d", d, tele, heart)
	}
}

func TestStopResetsState(t *testing.T) {
	c, rec, _ := newTestController(t, &fakeEngine{})
	ctx := context.Background()
	c.Start(ctx)
	gen := c.Generation()
	c.frameTick(ctx, gen)
	start := time.Now()
	c.telemetryTick(gen, start)
	for i := 0; i < 10; i++ {
		c.heartTick(ctx, gen, start.Add(time.Duration(i)*50*time.Millisecond))
	}
	c.Stop()

	c.mu.Lock()
	if c.frame != nil || c.heart.Len() != 0 {
		t.Fatalf("state survived Stop: frame=%v heart=%d", c.frame != nil, c.heart.Len())
	}
	c.mu.Unlock()
	if _, ok := c.deps.Dispatcher.LastFired(alert.KindDetection); ok {
		t.Fatal("alert clock survived Stop")
	}

	c.Start(ctx)
	defer c.Stop()
	gen = c.Generation()
	c.frameTick(ctx, gen)
	c.telemetryTick(gen, time.Now())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.telemetry[len(rec.telemetry)-1]
	if last.MotionScore != 0 {
		t.Fatalf("first tick after restart motion = %v", last.MotionScore)
	}
	if len(rec.alerts) != 2 {
		t.Fatalf("alerts = %d, want a fresh alert after restart", len(rec.alerts))
	}
}

func TestHeartTickWithoutSignal(t *testing.T) {
	c, rec, _ := newTestController(t, nil)
	ctx := context.Background()
	c.Start(ctx)
	defer c.Stop()
	gen := c.Generation()
	c.frameTick(ctx, gen)

	start := time.Now()
	for i := 0; i < 100; i++ {
		c.heartTick(ctx, gen, start.Add(time.Duration(i)*50*time.Millisecond))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.heart) != 100 {
		t.Fatalf("heart events = %d", len(rec.heart))
	}
	last := rec.heart[len(rec.heart)-1]
	if last.Available || last.Samples != 100 {
		t.Fatalf("flat signal event = %+v", last)
	}
	if math.Abs(last.Green-120) > 1 {
		t.Fatalf("green = %v, want ~120", last.Green)
	}
}

func TestStartStopErrors(t *testing.T) {
	c, rec, _ := newTestController(t, nil)
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop on idle controller: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start: %v", err)
	}
	if !c.Running() {
		t.Fatal("not running after Start")
	}
	c.Stop()
	if c.Running() {
		t.Fatal("running after Stop")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 2 || !rec.states[0].Running || rec.states[1].Running {
		t.Fatalf("states = %+v", rec.states)
	}
}

func TestLoopsRunOnTheirOwn(t *testing.T) {
	store, _ := config.NewStore(config.Default())
	c := New(Config{
		FrameInterval:     5 * time.Millisecond,
		TelemetryInterval: 10 * time.Millisecond,
		HeartInterval:     5 * time.Millisecond,
	}, Deps{
		Source:   capture.NewStaticSource(grayFrame(64, 48)),
		Settings: store,
	})
	rec := &recorder{}
	c.AddObserver(rec)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, tele, heart, _ := rec.counts(); tele > 0 && heart > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Stop()

	_, tele, heart, _ := rec.counts()
	if tele == 0 || heart == 0 {
		t.Fatalf("telemetry=%d heart=%d after 3s", tele, heart)
	}
}

func TestTestAlertWithoutSession(t *testing.T) {
	c, rec, _ := newTestController(t, nil)
	a, ok := c.TestAlert(context.Background())
	if !ok || a.Kind != alert.KindTest || a.Message != alert.TestMessage {
		t.Fatalf("test alert = %+v, %v", a, ok)
	}
	if _, _, _, n := rec.counts(); n != 1 {
		t.Fatalf("observed alerts = %d", n)
	}
}
