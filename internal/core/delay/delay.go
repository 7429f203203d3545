// Package delay provides cancellable sleeps over randomized windows.
package delay

import (
	"context"
	"math/rand/v2"
	"time"
)

// Window is an inclusive range of durations to sample from.
type Window struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Pick samples a duration uniformly from the window.
func (w Window) Pick(r *rand.Rand) time.Duration {
	lo, hi := w.Min, w.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	return lo + time.Duration(r.Int64N(int64(hi-lo)+1))
}

// Sleeper suspends the caller.
type Sleeper interface {
	// Sleep returns ctx.Err() if the context ends first.
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on the wall clock.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
