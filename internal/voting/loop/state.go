package loop

// State is the position of a run in the control loop.
type State string

const (
	StateRunning              State = "running"
	StateWaiting              State = "waiting"
	StateTerminatedSuccess    State = "terminated_success"
	StateTerminatedExhausted  State = "terminated_exhausted"
	StateTerminatedIneligible State = "terminated_ineligible"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether no further iterations will run.
func (s State) Terminal() bool {
	switch s {
	case StateTerminatedSuccess, StateTerminatedExhausted, StateTerminatedIneligible, StateCancelled:
		return true
	}
	return false
}

// validTransitions lists the states reachable from each non-terminal state.
var validTransitions = map[State][]State{
	StateRunning: {
		StateRunning,
		StateWaiting,
		StateTerminatedSuccess,
		StateTerminatedExhausted,
		StateTerminatedIneligible,
		StateCancelled,
	},
	StateWaiting: {StateRunning, StateCancelled},
}

// CanTransition checks if moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
