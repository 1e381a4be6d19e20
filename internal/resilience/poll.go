package resilience

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrPollLimit is returned by Poll when the attempt bound is exhausted
// before the condition is met.
var ErrPollLimit = errors.New("poll attempt limit reached")

// PollConfig bounds a status-polling loop. Interval grows multiplicatively
// from InitialInterval up to MaxInterval; a Multiplier of 0 or 1 keeps the
// interval fixed.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
}

// PollFunc checks the remote state once. attempt starts at 1. Return
// done=true to stop successfully; a non-nil error stops immediately.
type PollFunc func(attempt int) (done bool, err error)

// Poll sleeps between attempts according to cfg and invokes check until it
// reports done, returns an error, the context is cancelled, or MaxAttempts
// is exhausted (ErrPollLimit). The first check runs after one interval:
// asynchronous provider jobs are never ready instantly.
func Poll(ctx context.Context, cfg PollConfig, check PollFunc) error {
	interval := cfg.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}

		done, err := check(attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if cfg.Multiplier > 1 {
			interval = time.Duration(float64(interval) * cfg.Multiplier)
			if cfg.MaxInterval > 0 && interval > cfg.MaxInterval {
				interval = cfg.MaxInterval
			}
		}
	}

	return ErrPollLimit
}

// CalculateBackoff returns the interval for a given zero-based attempt
// under a multiplicative schedule capped at maxInterval.
func CalculateBackoff(attempt int, initial, maxInterval time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if maxInterval > 0 && backoff > maxInterval {
		return maxInterval
	}
	return backoff
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
