package connection

import "fmt"

// State is the lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected:     "disconnected",
	StateConnecting:       "connecting",
	StateConnected:        "connected",
	StateReconnectPending: "reconnect_pending",
	StateFailed:           "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// transitions lists every legal edge of the state machine.
var transitions = map[State][]State{
	StateDisconnected:     {StateConnecting},
	StateConnecting:       {StateConnected, StateReconnectPending, StateFailed, StateDisconnected},
	StateConnected:        {StateReconnectPending, StateFailed, StateDisconnected},
	StateReconnectPending: {StateConnecting, StateDisconnected},
	StateFailed:           {StateConnecting},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// retryDecision applies the attempt budget to an abnormal close.
// It returns the next state and the updated counter.
func retryDecision(attempts, max int) (State, int) {
	if attempts < max {
		return StateReconnectPending, attempts + 1
	}
	return StateFailed, attempts
}
