// Package filter reduces decoded detections to the ones worth alerting on.
package filter

import (
	"github.com/KG-NINJA/YOLOdemo/internal/labels"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// Criteria are the operator-controlled predicates applied to each detection.
type Criteria struct {
	Threshold     float64
	Classes       map[string]struct{}
	ZoneMarginPct float64
	MinAreaPct    float64
	FrameWidth    int
	FrameHeight   int
	// Label names a class id; labels.Name when nil.
	Label func(uint32) string
}

// ClassSet builds a Classes set from names.
func ClassSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Zone returns the inset rectangle (x0, y0, x1, y1) detections must be
// centered in.
func (c Criteria) Zone() (x0, y0, x1, y1 float64) {
	w := float64(c.FrameWidth)
	h := float64(c.FrameHeight)
	m := c.ZoneMarginPct / 100
	return m * w, m * h, (1 - m) * w, (1 - m) * h
}

// Apply returns the detections that pass every predicate, in input order.
// An empty class set or a non-positive frame yields an empty result.
func Apply(dets []types.Detection, c Criteria) []types.Detection {
	if len(c.Classes) == 0 || c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return nil
	}
	name := c.Label
	if name == nil {
		name = labels.Name
	}

	minArea := c.MinAreaPct / 100 * float64(c.FrameWidth) * float64(c.FrameHeight)
	x0, y0, x1, y1 := c.Zone()

	var out []types.Detection
	for _, d := range dets {
		if d.Score < c.Threshold {
			continue
		}
		if _, ok := c.Classes[name(d.ClassID)]; !ok {
			continue
		}
		if d.Box.Area() < minArea {
			continue
		}
		cx, cy := d.Box.Center()
		if cx < x0 || cx > x1 || cy < y0 || cy > y1 {
			continue
		}
		out = append(out, d)
	}
	return out
}
