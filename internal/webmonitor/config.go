package webmonitor

import "time"

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr            string
	PublicURL       string // encoded in the pairing QR code; derived from the request when empty
	StatusInterval  time.Duration
	KeepAlive       time.Duration
	HistorySize     int // detection frames kept for the status payload
	RecentAlerts    int
	MaxSettingsBody int64
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		StatusInterval:  2 * time.Second,
		KeepAlive:       30 * time.Second,
		HistorySize:     8,
		RecentAlerts:    20,
		MaxSettingsBody: 64 << 10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.RecentAlerts <= 0 {
		c.RecentAlerts = def.RecentAlerts
	}
	if c.MaxSettingsBody <= 0 {
		c.MaxSettingsBody = def.MaxSettingsBody
	}
	return c
}
