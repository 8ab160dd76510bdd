package httputil

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock lets tests drive the gateway without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Gateway is a single-lane, rate-limited call site. Calls are serialized and
// consecutive calls start at least interval apart.
type Gateway struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	clock    Clock
	interval time.Duration
}

func NewGateway(interval time.Duration, clock Clock) *Gateway {
	if clock == nil {
		clock = RealClock
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Gateway{
		limiter:  rate.NewLimiter(limit, 1),
		clock:    clock,
		interval: interval,
	}
}

func (g *Gateway) Interval() time.Duration { return g.interval }

// Do waits for the next slot and runs fn while holding the lane.
func (g *Gateway) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	r := g.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		if err := g.clock.Sleep(ctx, delay); err != nil {
			r.CancelAt(g.clock.Now())
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
