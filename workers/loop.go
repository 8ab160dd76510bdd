package workers

import (
	"context"
	"log/slog"
	"time"
)

// loop runs process every interval, and immediately whenever trigger fires.
func loop(ctx context.Context, name string, interval time.Duration, trigger <-chan struct{}, process func(ctx context.Context)) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "worker", name)
			return
		case <-tick:
			process(ctx)
		case <-trigger:
			process(ctx)
		}
	}
}

// wake is a non-blocking send; a pending wake-up absorbs the rest.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
