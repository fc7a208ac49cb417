package syncdna

import (
	"fmt"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/report"
)

// State is the position of a session in the synchronization pipeline.
type State int

const (
	Idle State = iota
	BoundsFound
	Cropped
	Verified
	Committed
	Flagged
	Skipped
	Aborted
)

var stateNames = [...]string{"idle", "bounds_found", "cropped", "verified", "committed", "flagged", "skipped", "aborted"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s >= Committed
}

var transitions = map[State][]State{
	Idle:        {BoundsFound, Skipped, Flagged, Aborted},
	BoundsFound: {Cropped, Skipped, Flagged, Aborted},
	Cropped:     {Verified, Skipped, Flagged, Aborted},
	Verified:    {Committed, Flagged},
}

// Machine enforces the forward-only pipeline order.
type Machine struct {
	state   State
	history []State
}

func NewMachine() *Machine {
	return &Machine{state: Idle, history: []State{Idle}}
}

func (m *Machine) State() State { return m.state }

// History lists every state entered, starting with Idle.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

func (m *Machine) Advance(to State) error {
	for _, next := range transitions[m.state] {
		if next == to {
			m.state = to
			m.history = append(m.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}

// Fail moves to the terminal state that matches err and returns it. Errors
// outside the taxonomy abort the session.
func (m *Machine) Fail(err error) State {
	to := Aborted
	switch Classify(err) {
	case report.StatusSkip:
		to = Skipped
	case report.StatusFlag:
		to = Flagged
	}
	if m.state == Verified && to != Flagged {
		to = Flagged
	}
	if m.state.Terminal() {
		return m.state
	}
	_ = m.Advance(to)
	return m.state
}
