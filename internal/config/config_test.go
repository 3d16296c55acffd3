package config

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Settings)
	}{
		{"threshold", func(s *Settings) { s.Threshold = 1.01 }},
		{"threshold", func(s *Settings) { s.Threshold = -0.1 }},
		{"zone_margin_pct", func(s *Settings) { s.ZoneMarginPct = 51 }},
		{"min_area_pct", func(s *Settings) { s.MinAreaPct = -1 }},
		{"cooldown_sec", func(s *Settings) { s.CooldownSec = 0.5 }},
		{"voice_mode", func(s *Settings) { s.VoiceMode = "siren" }},
		{"threshold", func(s *Settings) { s.Threshold = math.NaN() }},
		{"zone_margin_pct", func(s *Settings) { s.ZoneMarginPct = math.NaN() }},
		{"min_area_pct", func(s *Settings) { s.MinAreaPct = math.Inf(1) }},
		{"cooldown_sec", func(s *Settings) { s.CooldownSec = math.Inf(1) }},
		{"cooldown_sec", func(s *Settings) { s.CooldownSec = math.NaN() }},
	}
	for _, tt := range tests {
		s := Default()
		tt.mutate(&s)
		err := s.Validate()
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: err = %v, want *Error", tt.field, err)
		}
		if cfgErr.Field != tt.field {
			t.Fatalf("field = %s, want %s", cfgErr.Field, tt.field)
		}
	}
}

func TestStoreUpdate(t *testing.T) {
	st, err := NewStore(Default())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var notified []Settings
	st.Watch(func(s Settings) { notified = append(notified, s) })

	s := Default()
	s.Classes = []string{" dog ", "person", "dog", ""}
	s.CooldownSec = 2
	got, err := st.Update(s)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(got.Classes) != 2 || got.Classes[0] != "dog" || got.Classes[1] != "person" {
		t.Fatalf("classes = %q", got.Classes)
	}
	if st.Get().Cooldown() != 2*time.Second {
		t.Fatalf("cooldown = %v", st.Get().Cooldown())
	}
	if len(notified) != 1 {
		t.Fatalf("watchers notified %d times", len(notified))
	}

	bad := st.Get()
	bad.Threshold = 2
	if _, err := st.Update(bad); err == nil {
		t.Fatal("Update accepted an invalid threshold")
	}
	if st.Get().Threshold != 0.35 {
		t.Fatal("invalid update changed the store")
	}
	if len(notified) != 1 {
		t.Fatal("watchers notified for a rejected update")
	}

	nan := st.Get()
	nan.Threshold = math.NaN()
	if _, err := st.Update(nan); err == nil {
		t.Fatal("Update accepted a NaN threshold")
	}
	if _, err := NewStore(nan); err == nil {
		t.Fatal("NewStore accepted a NaN threshold")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	st, _ := NewStore(Default())
	s := st.Get()
	s.Classes[0] = "zebra"
	if st.Get().Classes[0] == "zebra" {
		t.Fatal("Get exposed internal slice")
	}
}

func TestCriteriaAndPolicy(t *testing.T) {
	s := Default()
	c := s.Criteria(640, 480)
	if _, ok := c.Classes["cat"]; !ok || c.FrameWidth != 640 || c.Threshold != 0.35 {
		t.Fatalf("criteria = %+v", c)
	}
	p := s.Policy()
	if p.Cooldown != 5*time.Second || p.Voice != "tts" {
		t.Fatalf("policy = %+v", p)
	}
}
