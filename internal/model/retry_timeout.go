package model

import (
	"math"
	"time"
)

// RetryStrategy implements the exponential-backoff-with-jitter formula
// named in spec.md §3: delay(attempt) = min(base*2^(attempt-1), max)*(1+jitter).
type RetryStrategy struct {
	BaseDelay     time.Duration `json:"baseDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	MaxAttempts   int           `json:"maxAttempts"`
	JitterPercent int           `json:"jitterPercent"` // 0-100
}

// DefaultRetryStrategy mirrors the teacher's resilience/retry defaults,
// adjusted to this formula's exponent.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   5,
		JitterPercent: 10,
	}
}

// Delay computes the backoff for the given 1-indexed attempt. jitterUnit
// must be in [0,1) and is injected by the caller so the formula is a pure,
// deterministic function for a fixed jitter seed, per the testable
// property that delay() is monotonic non-decreasing up to MaxDelay.
func (r RetryStrategy) Delay(attempt int, jitterUnit float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(r.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(r.MaxDelay); base > max {
		base = max
	}
	jitterFactor := 1 + (float64(r.JitterPercent)/100)*jitterUnit
	return time.Duration(base * jitterFactor)
}

// ShouldRetry reports whether another attempt is eligible: only Transient
// errors are auto-retried, and only while attempts remain.
func (r RetryStrategy) ShouldRetry(category ErrorCategory, attempt int) bool {
	return category.IsTransient() && attempt < r.MaxAttempts
}

// TimeoutConfig bounds subprocess and iteration lifetimes and drives
// heartbeat-based stall detection.
type TimeoutConfig struct {
	AgentTimeout       time.Duration `json:"agentTimeout"`
	IterationTimeout   time.Duration `json:"iterationTimeout"`
	HeartbeatInterval  time.Duration `json:"heartbeatInterval"`
	MissedHeartbeats   int           `json:"missedHeartbeats"`
}

// DefaultTimeoutConfig provides conservative defaults for agent subprocess
// supervision.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		AgentTimeout:      10 * time.Minute,
		IterationTimeout:  15 * time.Minute,
		HeartbeatInterval: 15 * time.Second,
		MissedHeartbeats:  4,
	}
}
