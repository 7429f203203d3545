package loop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
)

// Handle is a run launched in the background. The result is available once
// Done is closed.
type Handle struct {
	runner *Runner
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result domain.RunResult
}

// Start launches the run in its own goroutine. The run stops when ctx ends
// or Cancel is called. onDone, if set, receives the result after the run
// finished and before Done is closed.
func (r *Runner) Start(ctx context.Context, onDone func(domain.RunResult)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		runner: r,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()

		res := h.run(ctx)
		h.mu.Lock()
		h.result = res
		h.mu.Unlock()

		if onDone != nil {
			onDone(res)
		}
	}()
	return h
}

// run turns a panic inside the loop into a failed result.
func (h *Handle) run(ctx context.Context) (res domain.RunResult) {
	defer func() {
		if p := recover(); p != nil {
			h.runner.finish(StateCancelled, "panic")
			res = h.runner.Result()
			res.Outcome = domain.OutcomeFailure
			res.Err = fmt.Errorf("run panicked: %v", p)
			h.runner.log.Error("Detached jury run panicked",
				"run", h.runner.id, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	return h.runner.Run(ctx)
}

// ID returns the run id.
func (h *Handle) ID() string { return h.runner.id }

// Done is closed when the run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the run to stop. It is checked before every remote call and
// interrupts any sleep.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the run finished or ctx ends.
func (h *Handle) Wait(ctx context.Context) (domain.RunResult, error) {
	select {
	case <-h.done:
		res, _ := h.Result()
		return res, nil
	case <-ctx.Done():
		return domain.RunResult{}, ctx.Err()
	}
}

// Result returns the result and true once the run finished.
func (h *Handle) Result() (domain.RunResult, bool) {
	select {
	case <-h.done:
	default:
		return domain.RunResult{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, true
}

// Status returns a snapshot of the underlying run.
func (h *Handle) Status() Status { return h.runner.Status() }

// Shutdown cancels the run and waits up to timeout for it to stop.
func (h *Handle) Shutdown(timeout time.Duration) bool {
	h.Cancel()
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-h.done:
		return true
	case <-t.C:
		h.runner.log.Warn("Jury run did not stop in time", "run", h.runner.id, "timeout", timeout)
		return false
	}
}
