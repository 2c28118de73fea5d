package agent

import "fmt"

// State is the lifecycle position of a run.
type State string

const (
	// StateStarting covers prompt assembly and process launch.
	StateStarting State = "starting"
	// StateStreaming reads and batches the agent's output.
	StateStreaming State = "streaming"
	// StateDraining waits for the process to exit.
	StateDraining State = "draining"
	// StateCompleted is terminal; the reply was recorded.
	StateCompleted State = "completed"
	// StateFailed is terminal; an error reply was sent.
	StateFailed State = "failed"
)

// StateMachine holds the valid run transitions.
type StateMachine struct {
	transitions map[State][]State
}

// NewStateMachine creates the run state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[State][]State{
			StateStarting:  {StateStreaming, StateFailed},
			StateStreaming: {StateDraining, StateFailed},
			StateDraining:  {StateCompleted, StateFailed},
			StateCompleted: {},
			StateFailed:    {},
		},
	}
}

// CanTransition reports whether from may move to to.
func (sm *StateMachine) CanTransition(from, to State) bool {
	for _, state := range sm.transitions[from] {
		if state == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state has no outgoing transitions.
func (sm *StateMachine) IsTerminal(state State) bool {
	next, ok := sm.transitions[state]
	return ok && len(next) == 0
}

// Transition validates a move and returns the new state.
func (sm *StateMachine) Transition(from, to State) (State, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("invalid run transition from %s to %s", from, to)
	}
	return to, nil
}
