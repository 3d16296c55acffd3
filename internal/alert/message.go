package alert

import (
	"fmt"
	"strings"

	"github.com/KG-NINJA/YOLOdemo/internal/heartrate"
	"github.com/KG-NINJA/YOLOdemo/internal/labels"
	"github.com/KG-NINJA/YOLOdemo/pkg/types"
)

// DefaultWarningText is used when the operator leaves the warning empty.
const DefaultWarningText = "Warning: this is a restricted area. Please leave immediately."

// TestMessage is spoken by the voice check.
const TestMessage = "Test: checking the warning voice."

// LabelCount is the number of detections of one class.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CountLabels counts detections per class name in first-seen order.
func CountLabels(dets []types.Detection, label func(uint32) string) []LabelCount {
	if label == nil {
		label = labels.Name
	}
	var counts []LabelCount
	index := make(map[string]int)
	for _, d := range dets {
		name := label(d.ClassID)
		if i, ok := index[name]; ok {
			counts[i].Count++
			continue
		}
		index[name] = len(counts)
		counts = append(counts, LabelCount{Label: name, Count: 1})
	}
	return counts
}

// ComposeDetections builds "<base> Detected: person, 2 dogs." from counts.
func ComposeDetections(base string, counts []LabelCount) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultWarningText
	}
	if len(counts) == 0 {
		return base
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		if c.Count > 1 {
			parts[i] = fmt.Sprintf("%d %s", c.Count, plural(c.Label))
		} else {
			parts[i] = c.Label
		}
	}
	return fmt.Sprintf("%s Detected: %s.", base, strings.Join(parts, ", "))
}

// ComposeHeartRate embeds bpm and its band phrase.
func ComposeHeartRate(bpm uint32) string {
	return fmt.Sprintf("Heart rate %d, %s.", bpm, heartrate.Phrase(bpm))
}

var irregular = map[string]string{
	"person": "people",
	"mouse":  "mice",
	"knife":  "knives",
	"sheep":  "sheep",
	"skis":   "skis",
}

func plural(word string) string {
	if p, ok := irregular[word]; ok {
		return p
	}
	switch {
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "sh"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "x"):
		return word + "es"
	case strings.HasSuffix(word, "y") && len(word) > 1 && !strings.ContainsRune("aeiou", rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	}
	return word + "s"
}
