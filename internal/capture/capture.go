// Package capture provides frame sources for the monitoring session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/KG-NINJA/YOLOdemo/internal/logger"
)

// ErrNoFrames is returned when a source has nothing to deliver.
var ErrNoFrames = errors.New("no frames available")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// StaticSource always returns the same image.
type StaticSource struct {
	mu  sync.RWMutex
	img image.Image
}

// NewStaticSource returns a source serving img.
func NewStaticSource(img image.Image) *StaticSource {
	return &StaticSource{img: img}
}

// Set replaces the served image.
func (s *StaticSource) Set(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
}

// Latest returns the current image.
func (s *StaticSource) Latest(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return nil, ErrNoFrames
	}
	return s.img, nil
}

// DirectorySource cycles through still images in a directory, one per call.
// Decoded images are cached after the first pass.
type DirectorySource struct {
	mu    sync.Mutex
	files []string
	cache map[string]image.Image
	next  int
}

// NewDirectorySource lists the images in dir (JPEG, PNG, BMP, WebP).
func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFrames)
	}
	sort.Strings(files)

	logger.Info("Capture", "Frame directory %s: %d images", dir, len(files))
	return &DirectorySource{
		files: files,
		cache: make(map[string]image.Image, len(files)),
	}, nil
}

// Len returns the number of images in the cycle.
func (d *DirectorySource) Len() int {
	return len(d.files)
}

// Latest returns the next image in the cycle.
func (d *DirectorySource) Latest(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	img, ok := d.cache[path]
	d.mu.Unlock()
	if ok {
		return img, nil
	}

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.cache[path] = img
	d.mu.Unlock()
	return img, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	logger.Debug("Capture", "Decoded %s (%s, %v)", filepath.Base(path), format, img.Bounds().Size())
	return img, nil
}
