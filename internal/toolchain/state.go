package toolchain

import "fmt"

// State is a stage of the toolchain state machine:
//
//	Unverified -> Probing -> Healthy
//	                      -> Building -> Installed
//	                                  -> Failed
type State int

const (
	StateUnverified State = iota
	StateProbing
	StateHealthy
	StateBuilding
	StateInstalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateProbing:
		return "probing"
	case StateHealthy:
		return "healthy"
	case StateBuilding:
		return "building"
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateInstalled || s == StateFailed
}

var transitions = map[State][]State{
	StateUnverified: {StateProbing},
	StateProbing:    {StateHealthy, StateBuilding},
	StateBuilding:   {StateInstalled, StateFailed},
}

// machine tracks the current state and rejects moves outside the table.
type machine struct {
	state State
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("toolchain: illegal transition %s -> %s", m.state, next)
}
