package metrics

import (
	"sync"
	"time"
)

// DefaultRateWindow matches the interval of the periodic FPS log line
const DefaultRateWindow = 5 * time.Second

// RateMeter counts events and reports their rate once per window.
// The rate of the last completed window is kept until the next one closes.
type RateMeter struct {
	mu      sync.Mutex
	window  time.Duration
	start   time.Time
	count   uint64
	lastFPS float64
}

// NewRateMeter creates a meter with the given window
func NewRateMeter(window time.Duration) *RateMeter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateMeter{window: window}
}

// Tick records one event at now. It returns the rate and true when now
// closes a window.
func (r *RateMeter) Tick(now time.Time) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.start.IsZero() {
		r.start = now
	}
	r.count++

	elapsed := now.Sub(r.start)
	if elapsed < r.window {
		return 0, false
	}
	r.lastFPS = float64(r.count) / elapsed.Seconds()
	r.count = 0
	r.start = now
	return r.lastFPS, true
}

// FPS returns the rate of the last completed window
func (r *RateMeter) FPS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFPS
}
