package resilience

import (
	"context"
	"strings"
	"time"
)

// RetryConfig holds configuration for retrying transient failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig returns the retry schedule used for secondary AI
// calls (summarize/translate). Primary transcription calls are never
// retried automatically; only their polling loops repeat.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Retry executes fn until it succeeds, a non-retryable error occurs, the
// context is cancelled, or MaxAttempts is reached. isRetryable may be nil,
// in which case every error is retried.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error, isRetryable func(error) bool) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return lastErr
}

// IsRetryableNetworkError reports whether an error looks like a transient
// network or rate-limit condition worth retrying.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
		"deadline exceeded",
		"too many requests",
		"rate limit",
		"unavailable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
