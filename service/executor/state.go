package executor

import (
	"errors"
	"fmt"
)

// State is a step of the per-trade state machine:
//
//	Built -> Signed -> Submitted -> Confirmed | Failed | TimedOut
type State string

const (
	StateBuilt     State = "built"
	StateSigned    State = "signed"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimedOut
}

// ErrInvalidTransition guards the machine against going backwards,
// re-entering a state, or leaving a terminal state.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateBuilt:     {StateSigned},
	StateSigned:    {StateSubmitted},
	StateSubmitted: {StateConfirmed, StateFailed, StateTimedOut},
}

type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StateBuilt, history: []State{StateBuilt}}
}

func (m *machine) advance(to State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			m.history = append(m.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}
