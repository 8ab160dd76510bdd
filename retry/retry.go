package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config drives an exponential back-off loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, the error is not retryable, attempts run out or ctx ends.
func (c Config) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if c.Retryable != nil && !c.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		slog.Warn("retrying", "op", name, "attempt", attempt, "max", attempts, "delay", delay, "err", lastErr)
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return lastErr
			case <-t.C:
			}
			delay *= 2
			if c.MaxDelay > 0 && delay > c.MaxDelay {
				delay = c.MaxDelay
			}
		} else if ctx.Err() != nil {
			return lastErr
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}
