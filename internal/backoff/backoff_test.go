package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, Exponential(base, 0, 0))
	assert.Equal(t, 200*time.Millisecond, Exponential(base, 0, 1))
	assert.Equal(t, 800*time.Millisecond, Exponential(base, 0, 3))
	assert.Equal(t, 100*time.Millisecond, Exponential(base, 0, -2))
}

func TestExponentialCap(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	assert.Equal(t, 16*time.Second, Exponential(base, max, 4))
	assert.Equal(t, 30*time.Second, Exponential(base, max, 5))
	assert.Equal(t, 30*time.Second, Exponential(base, max, 500))
}

func TestBoundedMatchesReconnectSchedule(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second
	var prev time.Duration
	for retries := 0; retries < 12; retries++ {
		d := Bounded(base, cap, retries, 6)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing at retry %d", retries)
		assert.LessOrEqual(t, d, cap)
		prev = d
	}
	assert.Equal(t, 30*time.Second, Bounded(base, cap, 6, 6))

	// Without a cap the exponent limit alone bounds growth.
	assert.Equal(t, 64*time.Second, Bounded(base, 0, 20, 6))
}
