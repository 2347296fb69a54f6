package supervisor

import "fmt"

// State is the supervisor lifecycle:
// Idle -> Starting -> Running <-> Degraded -> ShuttingDown -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateDegraded
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateStopped; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown supervisor state %q", b)
}
