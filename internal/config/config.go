// Package config holds the operator settings that every tick reads live.
package config

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KG-NINJA/YOLOdemo/internal/alert"
	"github.com/KG-NINJA/YOLOdemo/internal/filter"
)

// Settings are the live operator controls.
type Settings struct {
	Threshold     float64         `json:"threshold"`
	Classes       []string        `json:"classes"`
	ZoneMarginPct float64         `json:"zone_margin_pct"`
	MinAreaPct    float64         `json:"min_area_pct"`
	CooldownSec   float64         `json:"cooldown_sec"`
	VoiceMode     alert.VoiceMode `json:"voice_mode"`
	WarningText   string          `json:"warning_text"`
}

// Default returns the settings a fresh dashboard starts with.
func Default() Settings {
	return Settings{
		Threshold:     0.35,
		Classes:       []string{"person", "cat", "dog"},
		ZoneMarginPct: 0,
		MinAreaPct:    0,
		CooldownSec:   5,
		VoiceMode:     alert.VoiceTTS,
		WarningText:   alert.DefaultWarningText,
	}
}

// Error is a configuration mistake that must be shown to the operator.
type Error struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Validate returns a *Error for the first out-of-range field.
func (s Settings) Validate() error {
	switch {
	case !finite(s.Threshold):
		return &Error{Field: "threshold", Value: s.Threshold, Reason: "must be a finite number"}
	case !finite(s.ZoneMarginPct):
		return &Error{Field: "zone_margin_pct", Value: s.ZoneMarginPct, Reason: "must be a finite number"}
	case !finite(s.MinAreaPct):
		return &Error{Field: "min_area_pct", Value: s.MinAreaPct, Reason: "must be a finite number"}
	case !finite(s.CooldownSec):
		return &Error{Field: "cooldown_sec", Value: s.CooldownSec, Reason: "must be a finite number"}
	case s.Threshold < 0 || s.Threshold > 1:
		return &Error{Field: "threshold", Value: s.Threshold, Reason: "must be within [0, 1]"}
	case s.ZoneMarginPct < 0 || s.ZoneMarginPct > 50:
		return &Error{Field: "zone_margin_pct", Value: s.ZoneMarginPct, Reason: "must be within [0, 50]"}
	case s.MinAreaPct < 0 || s.MinAreaPct > 100:
		return &Error{Field: "min_area_pct", Value: s.MinAreaPct, Reason: "must be within [0, 100]"}
	case s.CooldownSec < 1:
		return &Error{Field: "cooldown_sec", Value: s.CooldownSec, Reason: "must be at least 1"}
	case !s.VoiceMode.Valid():
		return &Error{Field: "voice_mode", Value: s.VoiceMode, Reason: "must be tts, beep or off"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Normalize trims class names, drops empties and duplicates, and sorts them.
func (s Settings) Normalize() Settings {
	seen := make(map[string]bool, len(s.Classes))
	classes := make([]string, 0, len(s.Classes))
	for _, c := range s.Classes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		classes = append(classes, c)
	}
	sort.Strings(classes)
	s.Classes = classes
	s.WarningText = strings.TrimSpace(s.WarningText)
	return s
}

// Cooldown returns CooldownSec as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSec * float64(time.Second))
}

// Criteria builds the detection filter for a frame of the given size.
func (s Settings) Criteria(width, height int) filter.Criteria {
	return filter.Criteria{
		Threshold:     s.Threshold,
		Classes:       filter.ClassSet(s.Classes...),
		ZoneMarginPct: s.ZoneMarginPct,
		MinAreaPct:    s.MinAreaPct,
		FrameWidth:    width,
		FrameHeight:   height,
	}
}

// Policy builds the alert policy.
func (s Settings) Policy() alert.Policy {
	return alert.Policy{
		Cooldown:    s.Cooldown(),
		Voice:       s.VoiceMode,
		WarningText: s.WarningText,
	}
}

// Store holds the current settings and notifies watchers on change.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	watchers []func(Settings)
}

// NewStore validates initial and returns a store holding it.
func NewStore(initial Settings) (*Store, error) {
	initial = initial.Normalize()
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{settings: initial}, nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.settings
	s.Classes = append([]string(nil), s.Classes...)
	return s
}

// Update validates and installs s. Invalid settings leave the store unchanged.
func (st *Store) Update(s Settings) (Settings, error) {
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return st.Get(), err
	}
	st.mu.Lock()
	st.settings = s
	watchers := slices.Clone(st.watchers)
	st.mu.Unlock()

	for _, w := range watchers {
		w(s)
	}
	return s, nil
}

// Watch registers fn to be called after each successful update.
func (st *Store) Watch(fn func(Settings)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.watchers = append(st.watchers, fn)
}
