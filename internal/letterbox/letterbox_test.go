package letterbox

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

func TestComputeHD(t *testing.T) {
	m, err := Compute(1280, 720, 640)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if m.Scale != 0.5 {
		t.Fatalf("scale = %v, want 0.5", m.Scale)
	}
	if m.NewWidth != 640 || m.NewHeight != 360 {
		t.Fatalf("new dims = %dx%d, want 640x360", m.NewWidth, m.NewHeight)
	}
	if m.PadX != 0 || m.PadY != 140 {
		t.Fatalf("pad = (%d,%d), want (0,140)", m.PadX, m.PadY)
	}
}

func TestComputeRejectsZero(t *testing.T) {
	cases := [][2]int{{0, 480}, {640, 0}, {-1, 10}}
	for _, c := range cases {
		if _, err := Compute(c[0], c[1], 640); !errors.Is(err, types.ErrInvalidInput) {
			t.Fatalf("Compute(%d,%d) err = %v, want ErrInvalidInput", c[0], c[1], err)
		}
	}
}

func TestComputeNeverExceedsTarget(t *testing.T) {
	for w := 1; w <= 2000; w += 37 {
		for h := 1; h <= 2000; h += 41 {
			m, err := Compute(w, h, 640)
			if err != nil {
				t.Fatalf("Compute(%d,%d): %v", w, h, err)
			}
			if m.NewWidth > 640 || m.NewHeight > 640 {
				t.Fatalf("Compute(%d,%d) new dims %dx%d exceed target", w, h, m.NewWidth, m.NewHeight)
			}
			if m.PadX < 0 || m.PadY < 0 {
				t.Fatalf("Compute(%d,%d) negative padding (%d,%d)", w, h, m.PadX, m.PadY)
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	sizes := [][2]int{{1280, 720}, {640, 480}, {480, 640}, {333, 777}, {1, 1}}
	for _, s := range sizes {
		m, err := Compute(s[0], s[1], 640)
		if err != nil {
			t.Fatalf("Compute: %v", err)
		}
		cx, cy, w, h := 300.0, 280.0, 64.0, 32.0
		src := m.ToSource(cx, cy, w, h)
		gx, gy, gw, gh := m.ToTarget(src)
		for _, pair := range [][2]float64{{cx, gx}, {cy, gy}, {w, gw}, {h, gh}} {
			if math.Abs(pair[0]-pair[1]) > 1e-9 {
				t.Fatalf("size %v: round trip %v -> %v", s, pair[0], pair[1])
			}
		}
	}
}

func TestToSourceCenter(t *testing.T) {
	m, _ := Compute(1280, 720, 640)
	b := m.ToSource(320, 320, 40, 40)
	cx, cy := b.Center()
	if math.Abs(cx-640) > 1 || math.Abs(cy-360) > 1 {
		t.Fatalf("center = (%v,%v), want (640,360)", cx, cy)
	}
	if b.W != 80 || b.H != 80 {
		t.Fatalf("size = %vx%v, want 80x80", b.W, b.H)
	}
}

func TestPrepareAndTensor(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	m, err := Compute(64, 32, 32)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	canvas := Prepare(src, m)
	if canvas.Bounds().Dx() != 32 || canvas.Bounds().Dy() != 32 {
		t.Fatalf("canvas = %v", canvas.Bounds())
	}
	if got := canvas.RGBAAt(0, 0); got != PadColor {
		t.Fatalf("pad pixel = %v, want %v", got, PadColor)
	}
	if got := canvas.RGBAAt(16, 16); got.R < 250 || got.G > 5 {
		t.Fatalf("content pixel = %v, want red", got)
	}

	dims, data := Tensor(canvas)
	if len(dims) != 4 || dims[0] != 1 || dims[1] != 3 || dims[2] != 32 || dims[3] != 32 {
		t.Fatalf("dims = %v", dims)
	}
	plane := 32 * 32
	center := 16*32 + 16
	if data[center] < 0.98 || data[plane+center] > 0.02 || data[2*plane+center] > 0.02 {
		t.Fatalf("center RGB = %v %v %v", data[center], data[plane+center], data[2*plane+center])
	}
	pad := float32(114) / 255
	if data[0] != pad {
		t.Fatalf("pad R = %v, want %v", data[0], pad)
	}
}
