package listing

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// Source supplies the randomness behind simulated failures and latency.
type Source interface {
	// Float64 returns a number in [0.0, 1.0).
	Float64() float64
	// Int64N returns a number in [0, n).
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Float64() float64     { return rand.Float64() }
func (globalSource) Int64N(n int64) int64 { return rand.Int63n(n) }

// Waiter blocks for a simulated latency. It returns early with the
// cancellation cause when ctx is cancelled.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// ClockWaiter waits on timers of its clock.
type ClockWaiter struct {
	Clock clock.Clock
}

// Wait implements Waiter.
func (w ClockWaiter) Wait(ctx context.Context, d time.Duration) error {
	timer := w.Clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
