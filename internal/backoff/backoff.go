// Package backoff computes capped exponential delays shared by the HTTP
// retry loop and the realtime reconnect loop.
package backoff

import "time"

// Exponential returns base * 2^exp capped at max. A non-positive max disables
// the cap. Negative exponents are treated as zero.
func Exponential(base, max time.Duration, exp int) time.Duration {
	if exp < 0 {
		exp = 0
	}
	d := base
	for i := 0; i < exp; i++ {
		if max > 0 && d >= max {
			return max
		}
		// Guard against overflow before doubling.
		if d >= time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Bounded is Exponential with the exponent clamped to limit, so the delay
// stops growing after limit attempts even when no cap applies.
func Bounded(base, max time.Duration, attempt, limit int) time.Duration {
	return Exponential(base, max, min(attempt, limit))
}
