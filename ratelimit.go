package scribelog

import (
	"sync"
	"time"
)

// RateLimit configures the dispatcher's fixed-window limiter: at most
// MaxPerSecond records per window. Window defaults to one second; a
// different Window reinterprets MaxPerSecond as "max per window".
type RateLimit struct {
	MaxPerSecond int
	Window       time.Duration
}

// rateLimiter is a fixed-window counter keyed by wall-clock window bucket.
// Records beyond max within one window are dropped; the counter zeroes when
// the elapsed time since windowStart exceeds the window size. Reconfiguring
// always re-arms (explicit reset semantics, see Logger.UpdateOptions).
type rateLimiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time // injectable for tests
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	rl := &rateLimiter{max: cfg.MaxPerSecond, window: window, now: time.Now}
	rl.windowStart = rl.now()
	return rl
}

// allow consumes one slot from the current window, rolling the window over
// first when it has elapsed. A non-positive max admits nothing.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.max <= 0 {
		return false
	}
	now := rl.now()
	if now.Sub(rl.windowStart) > rl.window {
		rl.windowStart = now
		rl.count = 0
	}
	if rl.count >= rl.max {
		return false
	}
	rl.count++
	return true
}
