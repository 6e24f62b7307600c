package monitor

import "time"

// Config defines the runtime configuration for the receiver monitor
type Config struct {
	Title          string
	StatusInterval time.Duration
	MJPEGInterval  time.Duration
	JPEGQuality    int
	// Snapshots requested wider than this are clamped
	MaxSnapshotWidth int
}

// DefaultConfig returns the monitor defaults
func DefaultConfig() Config {
	return Config{
		Title:            "fbstream receiver",
		StatusInterval:   2 * time.Second,
		MJPEGInterval:    100 * time.Millisecond,
		JPEGQuality:      80,
		MaxSnapshotWidth: 1920,
	}
}
