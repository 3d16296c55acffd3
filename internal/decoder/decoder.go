// Package decoder turns raw YOLO-style output tensors into detections in
// source-frame coordinates.
//
// Two axis orders are seen in exported models: channel-first (1, C, N) and
// channel-last (1, N, C). C is either 4+K (box + class scores) or 5+K (box +
// objectness + class logits). The layout is resolved once per tensor from its
// shape and then decoded by a per-variant accessor.
//
// Non-max suppression is not applied: overlapping boxes from neighbouring
// grid cells all survive, in scan order.
package decoder

import (
	"fmt"
	"math"

	"github.com/KG-NINJA/YOLOdemo/internal/letterbox"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

const (
	// DefaultNumClasses matches COCO-trained exports.
	DefaultNumClasses = 80
	// DefaultScoreFloor rejects candidates scoring at or below it.
	DefaultScoreFloor = 0.25
)

// Layout identifies the tensor axis order and objectness presence.
type Layout int

const (
	LayoutUnknown Layout = iota
	ChannelFirstWithObjectness
	ChannelFirstNoObjectness
	ChannelLastWithObjectness
	ChannelLastNoObjectness
)

var layoutNames = map[Layout]string{
	LayoutUnknown:              "unknown",
	ChannelFirstWithObjectness: "channel-first+obj",
	ChannelFirstNoObjectness:   "channel-first",
	ChannelLastWithObjectness:  "channel-last+obj",
	ChannelLastNoObjectness:    "channel-last",
}

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return "unknown"
}

// ChannelFirst reports whether channels are the second tensor axis.
func (l Layout) ChannelFirst() bool {
	return l == ChannelFirstWithObjectness || l == ChannelFirstNoObjectness
}

// HasObjectness reports whether channel 4 carries an objectness logit.
func (l Layout) HasObjectness() bool {
	return l == ChannelFirstWithObjectness || l == ChannelLastWithObjectness
}

// Tensor is a dense float32 tensor as returned by the inference engine.
type Tensor struct {
	Dims []int
	Data []float32
}

// Result holds decoded candidates as parallel slices in scan order.
type Result struct {
	Layout   Layout
	Boxes    []types.Box
	Scores   []float64
	ClassIDs []uint32
}

// Len returns the number of decoded candidates.
func (r Result) Len() int {
	return len(r.Boxes)
}

// Detections zips the parallel slices.
func (r Result) Detections() []types.Detection {
	out := make([]types.Detection, len(r.Boxes))
	for i := range r.Boxes {
		out[i] = types.Detection{Box: r.Boxes[i], Score: r.Scores[i], ClassID: r.ClassIDs[i]}
	}
	return out
}

// Decoder decodes tensors for a model with a fixed class count.
type Decoder struct {
	NumClasses int
	ScoreFloor float64
}

// New returns a decoder with the COCO defaults.
func New() *Decoder {
	return &Decoder{
		NumClasses: DefaultNumClasses,
		ScoreFloor: DefaultScoreFloor,
	}
}

// DetectLayout resolves the layout of a tensor shape for numClasses classes.
// The second axis is tested first, so a square (1, C, C) tensor decodes as
// channel-first.
func DetectLayout(dims []int, numClasses int) (Layout, error) {
	if len(dims) != 3 {
		return LayoutUnknown, fmt.Errorf("tensor rank %d, want 3: %w", len(dims), types.ErrInvalidInput)
	}
	if dims[0] != 1 {
		return LayoutUnknown, fmt.Errorf("tensor batch %d, want 1: %w", dims[0], types.ErrInvalidInput)
	}

	withObj := 5 + numClasses
	noObj := 4 + numClasses
	switch {
	case dims[1] == withObj:
		return ChannelFirstWithObjectness, nil
	case dims[1] == noObj:
		return ChannelFirstNoObjectness, nil
	case dims[2] == withObj:
		return ChannelLastWithObjectness, nil
	case dims[2] == noObj:
		return ChannelLastNoObjectness, nil
	}
	return LayoutUnknown, fmt.Errorf("tensor shape %v matches neither %d nor %d channels: %w",
		dims, noObj, withObj, types.ErrInvalidInput)
}

// Decode converts t into detections using meta to undo the letterbox.
// On malformed input it returns an empty Result and an error wrapping
// types.ErrInvalidInput.
func (d *Decoder) Decode(t Tensor, meta letterbox.Meta) (Result, error) {
	if len(t.Data) == 0 {
		return Result{}, fmt.Errorf("empty tensor: %w", types.ErrInvalidInput)
	}
	if meta.Scale <= 0 {
		return Result{}, fmt.Errorf("letterbox scale %v: %w", meta.Scale, types.ErrInvalidInput)
	}

	layout, err := DetectLayout(t.Dims, d.NumClasses)
	if err != nil {
		return Result{}, err
	}

	var channels, elements int
	if layout.ChannelFirst() {
		channels, elements = t.Dims[1], t.Dims[2]
	} else {
		elements, channels = t.Dims[1], t.Dims[2]
	}
	if channels <= 0 || elements <= 0 {
		return Result{}, fmt.Errorf("tensor shape %v: %w", t.Dims, types.ErrInvalidInput)
	}
	// Divide instead of multiplying so huge dims cannot wrap.
	if elements > len(t.Data)/channels {
		return Result{}, fmt.Errorf("tensor data %d values, shape %v needs more: %w",
			len(t.Data), t.Dims, types.ErrInvalidInput)
	}

	get := accessor(layout, t.Data, channels, elements)
	score := scorer(layout)

	res := Result{Layout: layout}
	srcW := float64(meta.SourceWidth)
	srcH := float64(meta.SourceHeight)

	for i := 0; i < elements; i++ {
		x, y, w, h := get(0, i), get(1, i), get(2, i), get(3, i)
		best, cls := score(get, i, channels)
		if best <= d.ScoreFloor || w <= 0 || h <= 0 {
			continue
		}

		box := meta.ToSource(x, y, w, h).Clamp(srcW, srcH)
		res.Boxes = append(res.Boxes, box)
		res.Scores = append(res.Scores, best)
		res.ClassIDs = append(res.ClassIDs, uint32(cls))
	}

	return res, nil
}

type getter func(c, i int) float64

func accessor(layout Layout, data []float32, channels, elements int) getter {
	if layout.ChannelFirst() {
		return func(c, i int) float64 { return float64(data[c*elements+i]) }
	}
	return func(c, i int) float64 { return float64(data[i*channels+c]) }
}

type scoreFunc func(get getter, i, channels int) (float64, int)

func scorer(layout Layout) scoreFunc {
	if layout.HasObjectness() {
		return objectnessScore
	}
	return classScore
}

// objectnessScore returns max over classes of sigmoid(obj)*sigmoid(cls).
func objectnessScore(get getter, i, channels int) (float64, int) {
	obj := sigmoid(get(4, i))
	best, cls := math.Inf(-1), -1
	for c := 5; c < channels; c++ {
		if p := sigmoid(get(c, i)) * obj; p > best {
			best, cls = p, c-5
		}
	}
	return best, cls
}

// classScore returns the raw class maximum.
func classScore(get getter, i, channels int) (float64, int) {
	best, cls := math.Inf(-1), -1
	for c := 4; c < channels; c++ {
		if p := get(c, i); p > best {
			best, cls = p, c-4
		}
	}
	return best, cls
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
