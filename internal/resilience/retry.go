// Package resilience wraps upstream collaborator calls with retry and
// circuit breaking. Only Upstream-class failures are retried or counted
// against a breaker; user input and business rule failures say nothing
// about collaborator health.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// RetryConfig configures retry behavior for one upstream call site.
type RetryConfig struct {
	MaxRetries int           // extra attempts after the first
	Backoff    time.Duration // base delay between attempts
	Jitter     time.Duration // random extra delay in [0, Jitter)
}

// DefaultRetryConfig retries once with a jittered 250ms backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 1,
		Backoff:    250 * time.Millisecond,
		Jitter:     100 * time.Millisecond,
	}
}

// WithRetry executes fn, retrying transient upstream failures. Permanent
// failures return immediately; the last error is returned once attempts are
// exhausted. The backoff sleep respects context cancellation.
func WithRetry(ctx context.Context, cfg RetryConfig, cat logging.Category, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logging.Get(cat).Info("%s recovered on attempt %d", operation, attempt+1)
			}
			return nil
		}
		lastErr = err

		if !types.Retryable(err) || attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.Backoff
		if cfg.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(cfg.Jitter)))
		}
		logging.Get(cat).Warn("%s failed (attempt %d/%d), retrying in %v: %v",
			operation, attempt+1, cfg.MaxRetries+1, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
