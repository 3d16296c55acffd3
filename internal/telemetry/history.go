package telemetry

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
)

// DefaultHistorySize is how many snapshots the dashboard keeps for export.
const DefaultHistorySize = 300

// CSVHeader is the first row written by WriteCSV.
var CSVHeader = []string{"timestamp", "ambientPercent", "stddev", "motionScore", "rMean", "gMean", "bMean", "ev"}

// History is a bounded FIFO of snapshots, safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	items []Snapshot
	limit int
}

// NewHistory creates a history holding at most limit snapshots.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{limit: limit}
}

// Add appends s, evicting the oldest snapshot when full.
func (h *History) Add(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, s)
	if over := len(h.items) - h.limit; over > 0 {
		h.items = append(h.items[:0], h.items[over:]...)
	}
}

// Snapshots returns a copy, oldest first.
func (h *History) Snapshots() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Snapshot, len(h.items))
	copy(out, h.items)
	return out
}

// Latest returns the newest snapshot.
func (h *History) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		return Snapshot{}, false
	}
	return h.items[len(h.items)-1], true
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Reset empties the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
}

// WriteCSV exports the history with Unix-millisecond timestamps and two
// decimal numeric fields.
func (h *History) WriteCSV(w io.Writer) error {
	return WriteCSV(w, h.Snapshots())
}

// WriteCSV writes snapshots in export format.
func WriteCSV(w io.Writer, snaps []Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, s := range snaps {
		if err := cw.Write(Record(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Record formats one snapshot as a CSV row.
func Record(s Snapshot) []string {
	return []string{
		strconv.FormatInt(s.Timestamp.UnixMilli(), 10),
		fixed(s.AmbientPercent),
		fixed(s.StdDev),
		fixed(s.MotionScore),
		fixed(s.RMean),
		fixed(s.GMean),
		fixed(s.BMean),
		s.EVCode,
	}
}

func fixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
