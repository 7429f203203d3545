package delay

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"
)

func TestWindowPick_InRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	w := Window{Min: 20 * time.Second, Max: 40 * time.Second}

	for i := 0; i < 1000; i++ {
		d := w.Pick(r)
		if d < w.Min || d > w.Max {
			t.Fatalf("Pick() = %v, outside [%v, %v]", d, w.Min, w.Max)
		}
	}
}

func TestWindowPick_Degenerate(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	if got := (Window{Min: time.Second, Max: time.Second}).Pick(r); got != time.Second {
		t.Errorf("Pick() = %v, want 1s", got)
	}
	got := (Window{Min: 3 * time.Second, Max: time.Second}).Pick(r)
	if got < time.Second || got > 3*time.Second {
		t.Errorf("Pick() on swapped window = %v, want within [1s, 3s]", got)
	}
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerSleeper{}.Sleep(ctx, time.Hour)
	if err != context.Canceled {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly after cancellation")
	}
}

func TestTimerSleeper_Elapses(t *testing.T) {
	if err := (TimerSleeper{}).Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}
}
