package util

import (
	"math"
	"math/rand"
	"time"
)

// CalculateExponentialBackoff computes the delay before retry attempt n.
// Formula: baseDelay * 2^(attempt-1) with +/- jitterFraction noise, capped at
// maxDelay. Attempt numbering starts at 1; attempt 0 gets no delay.
func CalculateExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration, jitterFraction float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))

	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitterFraction > 0 {
		jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
		backoff += jitter
	}

	if backoff < 0 {
		return 0
	}
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	return time.Duration(backoff)
}
