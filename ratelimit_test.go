package scribelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(RateLimit{MaxPerSecond: 3})
	rl.now = func() time.Time { return now }

	admitted := 0
	for i := 0; i < 6; i++ {
		if rl.allow() {
			admitted++
		}
	}
	assert.Equal(t, 3, admitted, "exactly max records per window")
}

func TestRateLimiterWindowRollover(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(RateLimit{MaxPerSecond: 2})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	// Advancing past the window re-arms the counter.
	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}

func TestRateLimiterCustomWindow(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(RateLimit{MaxPerSecond: 1, Window: 10 * time.Second})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow())
	now = now.Add(5 * time.Second)
	assert.False(t, rl.allow(), "still inside the 10s window")
	now = now.Add(6 * time.Second)
	assert.True(t, rl.allow())
}

func TestRateLimiterNonPositiveMaxAdmitsNothing(t *testing.T) {
	rl := newRateLimiter(RateLimit{MaxPerSecond: 0})
	assert.False(t, rl.allow())
}
