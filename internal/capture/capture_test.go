package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, c color.Color, encode func(*os.File, image.Image) error) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func encodePNG(f *os.File, img image.Image) error { return png.Encode(f, img) }
func encodeBMP(f *os.File, img image.Image) error { return bmp.Encode(f, img) }

func TestDirectorySourceCycles(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), color.RGBA{R: 255, A: 255}, encodePNG)
	writeImage(t, filepath.Join(dir, "b.bmp"), color.RGBA{G: 255, A: 255}, encodeBMP)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0644)

	src, err := NewDirectorySource(dir)
	if err != nil {
		t.Fatalf("NewDirectorySource: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("len = %d, want 2", src.Len())
	}

	ctx := context.Background()
	var reds, greens int
	for i := 0; i < 4; i++ {
		img, err := src.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		r, g, _, _ := img.At(1, 1).RGBA()
		switch {
		case r > 0xf000 && g < 0x1000:
			reds++
		case g > 0xf000 && r < 0x1000:
			greens++
		}
	}
	if reds != 2 || greens != 2 {
		t.Fatalf("reds=%d greens=%d, want 2 each", reds, greens)
	}
}

func TestDirectorySourceEmpty(t *testing.T) {
	if _, err := NewDirectorySource(t.TempDir()); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("err = %v, want ErrNoFrames", err)
	}
}

func TestStaticSource(t *testing.T) {
	s := NewStaticSource(nil)
	if _, err := s.Latest(context.Background()); !errors.Is(err, ErrNoFrames) {
		t.Fatalf("err = %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	s.Set(img)
	got, err := s.Latest(context.Background())
	if err != nil || got != image.Image(img) {
		t.Fatalf("Latest = %v, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Latest(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
