package connection

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnectPending, "reconnect_pending"},
		{StateFailed, "failed"},
		{State(42), "State(42)"},
		{State(-1), "State(-1)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]State]bool{
		{StateDisconnected, StateConnecting}:       true,
		{StateConnecting, StateConnected}:          true,
		{StateConnecting, StateReconnectPending}:   true,
		{StateConnecting, StateFailed}:             true,
		{StateConnecting, StateDisconnected}:       true,
		{StateConnected, StateReconnectPending}:    true,
		{StateConnected, StateFailed}:              true,
		{StateConnected, StateDisconnected}:        true,
		{StateReconnectPending, StateConnecting}:   true,
		{StateReconnectPending, StateDisconnected}: true,
		{StateFailed, StateConnecting}:             true,
	}

	all := []State{StateDisconnected, StateConnecting, StateConnected, StateReconnectPending, StateFailed}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]State{from, to}]
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%v, %v) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestRetryDecision(t *testing.T) {
	tests := []struct {
		attempts, max int
		wantState     State
		wantAttempts  int
	}{
		{0, 5, StateReconnectPending, 1},
		{4, 5, StateReconnectPending, 5},
		{5, 5, StateFailed, 5},
		{0, 0, StateFailed, 0},
		{1, 1, StateFailed, 1},
	}

	for _, tt := range tests {
		state, attempts := retryDecision(tt.attempts, tt.max)
		if state != tt.wantState || attempts != tt.wantAttempts {
			t.Errorf("retryDecision(%d, %d) = (%v, %d), want (%v, %d)",
				tt.attempts, tt.max, state, attempts, tt.wantState, tt.wantAttempts)
		}
	}
}
