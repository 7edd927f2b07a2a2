// Package resilience retries transient failures against external services,
// currently the narrative model backends.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls the retry loop.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// Retryable decides whether an error is worth another attempt. nil retries
	// everything except context cancellation.
	Retryable func(error) bool
}

// DefaultConfig returns the standard backoff settings for model calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Retry runs fn until it succeeds, the attempts are exhausted, or the context
// is done. The last error is returned on failure.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay(cfg, attempt)):
		}
	}
	return lastErr
}

func delay(cfg Config, attempt int) time.Duration {
	d := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter && d >= 10 {
		d += time.Duration(rand.Int63n(int64(d / 10)))
	}
	return d
}
