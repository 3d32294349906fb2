// Package retry decides retry eligibility and computes backoff instants.
// Both functions are pure: the engine supplies the clock and the failed
// attempt number.
package retry

import (
	"time"

	"chronos/internal/models"
)

// ShouldRetry reports whether a job whose attempt-th run just failed with
// the given condition tag is eligible for another attempt. A nil policy
// never retries. An empty RetryOn set retries on any tag; otherwise the tag
// must be listed.
func ShouldRetry(p *models.RetryPolicy, attempt int, tag string) bool {
	if p == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, t := range p.RetryOn {
		if t == tag {
			return true
		}
	}
	return false
}

// maxRetryDelay bounds the exponential curve; without it the doubling
// overflows time.Duration around attempt 60 and schedules the retry in the
// past.
const maxRetryDelay = 24 * time.Hour

// NextRetryAt computes when attempt+1 should fire, given that attempt just
// failed at now. FIXED waits the base delay; EXPONENTIAL doubles it per
// prior attempt (base * 2^(attempt-1)), capped at maxRetryDelay.
func NextRetryAt(p *models.RetryPolicy, attempt int, now time.Time) time.Time {
	delay := time.Duration(p.BackoffSeconds) * time.Second
	if p.Backoff == models.BackoffExponential {
		for i := 1; i < attempt && delay < maxRetryDelay; i++ {
			delay *= 2
		}
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return now.Add(delay)
}
