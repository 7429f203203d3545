package loop

// ErrorBudget counts the recoverable failures a run may still absorb.
// It only ever decreases and belongs to a single run.
type ErrorBudget struct {
	remaining int
}

// NewErrorBudget creates a budget with n failures available.
func NewErrorBudget(n int) *ErrorBudget {
	return &ErrorBudget{remaining: n}
}

// Spend consumes one failure and returns what is left.
func (b *ErrorBudget) Spend() int {
	b.remaining--
	return b.remaining
}

// Remaining returns the failures left.
func (b *ErrorBudget) Remaining() int { return b.remaining }

// Exhausted reports whether the run must stop.
func (b *ErrorBudget) Exhausted() bool { return b.remaining <= 0 }

// Repeats counts how many more times the run may wait for new cases.
// A negative count never runs out.
type Repeats struct {
	left int
}

// NewRepeats creates a repeat counter.
func NewRepeats(n int) *Repeats {
	return &Repeats{left: n}
}

// Exhausted reports whether no further waits are allowed.
func (r *Repeats) Exhausted() bool { return r.left == 0 }

// Unbounded reports whether the counter never runs out.
func (r *Repeats) Unbounded() bool { return r.left < 0 }

// Take consumes one wait.
func (r *Repeats) Take() {
	if r.left > 0 {
		r.left--
	}
}

// Left returns the waits remaining, negative when unbounded.
func (r *Repeats) Left() int { return r.left }
