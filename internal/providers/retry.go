package providers

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"time"
)

// RetryConfig controls retry behavior for provider HTTP calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff and jitter. Only transient
// failures (429, 5xx, network errors) are retried; the last error is
// returned once attempts are exhausted.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.Retryable() {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt, pe.RetryAfter)
		slog.Warn("provider call failed, retrying",
			"provider", pe.Provider, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

func backoffDelay(cfg RetryConfig, attempt int, retryAfter float64) time.Duration {
	if retryAfter > 0 {
		d := time.Duration(retryAfter * float64(time.Second))
		if d > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return d
	}
	delay := cfg.BaseDelay << (attempt - 1)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// Up to 25% jitter to avoid thundering herds.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// ParseRetryAfter parses a Retry-After header value in seconds.
func ParseRetryAfter(v string) float64 {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
