package util

import (
	"math/rand/v2"
	"time"
)

// MaxBackoff caps CalculateBackoff
const MaxBackoff = 30 * time.Second

// CalculateBackoff returns exponential backoff with jitter.
// The base delay is doubled each attempt and capped at MaxBackoff,
// then shifted by up to ±25%.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	return CalculateBackoffCapped(baseDelay, attempt, MaxBackoff)
}

// CalculateBackoffCapped is CalculateBackoff with an explicit cap.
func CalculateBackoffCapped(baseDelay time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if attempt <= 0 || baseDelay <= 0 {
		return 0
	}
	// Cap attempt to avoid overflow in the shift
	if attempt > 30 {
		attempt = 30
	}
	backoff := baseDelay * time.Duration(1<<uint(attempt))
	if backoff <= 0 || backoff > ceiling {
		backoff = ceiling
	}
	if backoff < 4 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(int64(backoff)/2)) - backoff/4
	return backoff + jitter
}
