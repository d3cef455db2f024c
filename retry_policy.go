package jembatan

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/jembatan/internal/backoff"
)

// Retry defaults.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRateLimitDelay = 60 * time.Second
)

// RetryController decides whether a failed attempt is retried and how long
// to wait first. The zero value uses the package defaults.
type RetryController struct {
	// BaseDelay is the first backoff step; attempt i waits BaseDelay * 2^i.
	BaseDelay time.Duration
	// RateLimitDelay applies to a 429 without a usable Retry-After header.
	RateLimitDelay time.Duration
	// Jitter widens backoff delays by up to this fraction. Zero keeps them exact.
	Jitter float64
	// MaxDelay caps backoff delays. Zero means no cap.
	MaxDelay time.Duration
	// MaxRetryAfter caps server supplied delays. Zero means no cap.
	MaxRetryAfter time.Duration

	strategy backoff.Strategy
	now      func() time.Time
}

// NewRetryController returns a controller with the given base delay.
func NewRetryController(baseDelay time.Duration) *RetryController {
	return &RetryController{
		BaseDelay:      baseDelay,
		RateLimitDelay: DefaultRateLimitDelay,
	}
}

// Decide returns the delay before the next attempt and whether to retry at all.
// attempt is the 0-based index of the attempt that just failed. It stops once
// attempt reaches maxRetries or when err is not retryable, so maxRetries == 0
// makes every failure terminal.
func (rc *RetryController) Decide(attempt, maxRetries int, err *ClassifiedError) (time.Duration, bool) {
	if attempt >= maxRetries || !err.IsRetryable() {
		return 0, false
	}

	if err.IsRateLimited() {
		if d, ok := rc.retryAfter(err.Header); ok {
			return d, true
		}
		return rc.rateLimitDelay(), true
	}

	return rc.backoffStrategy().Calculate(attempt, rc.baseDelay(), rc.MaxDelay, 2, rc.Jitter), true
}

// Wait suspends the caller for d or until ctx is done.
func (rc *RetryController) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rc *RetryController) baseDelay() time.Duration {
	if rc.BaseDelay <= 0 {
		return DefaultRetryBaseDelay
	}
	return rc.BaseDelay
}

func (rc *RetryController) backoffStrategy() backoff.Strategy {
	if rc.strategy == nil {
		return backoff.Exponential{}
	}
	return rc.strategy
}

func (rc *RetryController) rateLimitDelay() time.Duration {
	if rc.RateLimitDelay <= 0 {
		return DefaultRateLimitDelay
	}
	return rc.RateLimitDelay
}

func (rc *RetryController) clock() time.Time {
	if rc.now != nil {
		return rc.now()
	}
	return time.Now()
}

// retryAfter parses Retry-After as delay-seconds or an HTTP-date. Negative,
// past or unparsable values report false so the caller keeps its default.
func (rc *RetryController) retryAfter(header http.Header) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}

	var delay time.Duration
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		delay = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(value); err == nil {
		delay = t.Sub(rc.clock())
		if delay < 0 {
			return 0, false
		}
	} else {
		return 0, false
	}

	if rc.MaxRetryAfter > 0 && delay > rc.MaxRetryAfter {
		delay = rc.MaxRetryAfter
	}
	return delay, true
}
