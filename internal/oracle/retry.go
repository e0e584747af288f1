// ABOUTME: Exponential backoff with jitter for OracleClient adapters wrapping rate-limited provider SDKs.
// ABOUTME: Adapted from the unified LLM client SDK's RetryPolicy, trimmed to what the mux-backed adapter needs.
package oracle

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures exponential backoff for one adapter call.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns a policy tuned for provider rate-limit backoff:
// up to 5 retries, 2s base delay, 3x multiplier, capped at 90s, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        5,
		BaseDelay:         2 * time.Second,
		MaxDelay:          90 * time.Second,
		BackoffMultiplier: 3.0,
		Jitter:            true,
	}
}

// CalculateDelay computes the delay before the given (0-indexed) retry attempt.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delayFloat := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if delayFloat > float64(p.MaxDelay) {
		delayFloat = float64(p.MaxDelay)
	}
	delay := time.Duration(delayFloat)
	if p.Jitter {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}
	return delay
}

// Do runs fn, retrying on transient errors per the policy until it succeeds,
// a permanent error occurs, retries are exhausted, or ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt >= p.MaxRetries {
			return lastErr
		}

		delay := p.CalculateDelay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(lastErr, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
