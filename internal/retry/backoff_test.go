package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chronos/internal/models"
)

func TestShouldRetry(t *testing.T) {
	anyTag := &models.RetryPolicy{MaxAttempts: 3, Backoff: models.BackoffFixed, BackoffSeconds: 10}
	tagged := &models.RetryPolicy{MaxAttempts: 3, Backoff: models.BackoffFixed, BackoffSeconds: 10, RetryOn: []string{"timeout", "connection_error"}}

	tests := []struct {
		name    string
		policy  *models.RetryPolicy
		attempt int
		tag     string
		want    bool
	}{
		{name: "nil policy never retries", policy: nil, attempt: 1, tag: "timeout", want: false},
		{name: "zero max attempts", policy: &models.RetryPolicy{MaxAttempts: 0}, attempt: 1, tag: "timeout", want: false},
		{name: "below max with empty retry_on", policy: anyTag, attempt: 1, tag: "server_error", want: true},
		{name: "second failure still below max", policy: anyTag, attempt: 2, tag: "server_error", want: true},
		{name: "attempts exhausted", policy: anyTag, attempt: 3, tag: "timeout", want: false},
		{name: "beyond max", policy: anyTag, attempt: 7, tag: "timeout", want: false},
		{name: "tag in retry_on", policy: tagged, attempt: 1, tag: "timeout", want: true},
		{name: "tag not in retry_on", policy: tagged, attempt: 1, tag: "validation_error", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.policy, tt.attempt, tt.tag))
		})
	}
}

func TestNextRetryAt_Fixed(t *testing.T) {
	p := &models.RetryPolicy{MaxAttempts: 5, Backoff: models.BackoffFixed, BackoffSeconds: 30}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, now.Add(30*time.Second), NextRetryAt(p, attempt, now),
			"fixed backoff must be constant across attempts")
	}
}

func TestNextRetryAt_Exponential(t *testing.T) {
	p := &models.RetryPolicy{MaxAttempts: 5, Backoff: models.BackoffExponential, BackoffSeconds: 10}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(10*time.Second), NextRetryAt(p, 1, now))
	assert.Equal(t, now.Add(20*time.Second), NextRetryAt(p, 2, now))
	assert.Equal(t, now.Add(40*time.Second), NextRetryAt(p, 3, now))

	// strictly increasing in attempt
	prev := NextRetryAt(p, 1, now)
	for attempt := 2; attempt <= 6; attempt++ {
		next := NextRetryAt(p, attempt, now)
		assert.True(t, next.After(prev), "attempt %d not after attempt %d", attempt, attempt-1)
		prev = next
	}
}

func TestNextRetryAt_ExponentialCapsAtMaxDelay(t *testing.T) {
	p := &models.RetryPolicy{MaxAttempts: 500, Backoff: models.BackoffExponential, BackoffSeconds: 10}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// attempt numbers large enough to overflow a naive shift must still land
	// in the future, at the capped delay
	for _, attempt := range []int{60, 65, 100, 500} {
		at := NextRetryAt(p, attempt, now)
		assert.True(t, at.After(now), "attempt %d scheduled in the past", attempt)
		assert.Equal(t, now.Add(maxRetryDelay), at)
	}
}
