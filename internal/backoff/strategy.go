package backoff

import (
	"math"
	"math/rand"
	"time"
)

// maxExponent bounds the loop in Pow. Larger products saturate at the cap anyway.
const maxExponent = 64

// Strategy computes the wait before retry number attempt (0-based).
type Strategy interface {
	Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration
}

// Exponential is base * multiplier^attempt, optionally capped at max and
// widened by up to jitter*delay. A zero max means uncapped, in which case the
// delay saturates at the largest time.Duration instead of wrapping. A zero
// jitter keeps the result exact.
type Exponential struct{}

// Calculate implements Strategy.
func (Exponential) Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxExponent {
		attempt = maxExponent
	}
	if multiplier <= 0 {
		multiplier = 2
	}

	ceiling := float64(math.MaxInt64)
	if max > 0 {
		ceiling = float64(max)
	}

	delay := float64(base) * Pow(multiplier, attempt)
	if delay > ceiling {
		delay = ceiling
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		delay += delay * jitter * rand.Float64()
		if delay > ceiling {
			delay = ceiling
		}
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
