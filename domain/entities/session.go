package entities

// SessionState represents the lifecycle state of a live voice session.
//
// The graph is strictly:
//
//	Idle -> Connecting -> SetupPending -> Listening <-> {Thinking, Speaking}
//
// with Disconnected and Error reachable as terminal states. A session that
// reached a terminal state cannot be reused; callers construct a new one.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateSetupPending SessionState = "setup_pending"
	SessionStateListening    SessionState = "listening"
	SessionStateThinking     SessionState = "thinking"
	SessionStateSpeaking     SessionState = "speaking"
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateError        SessionState = "error"
)

// String returns the state name.
func (s SessionState) String() string {
	return string(s)
}

// IsConnected reports whether the state is one of the connected substates
// (Listening, Thinking, Speaking).
func (s SessionState) IsConnected() bool {
	switch s {
	case SessionStateListening, SessionStateThinking, SessionStateSpeaking:
		return true
	}
	return false
}

// IsTerminal reports whether the session can never leave this state.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateDisconnected || s == SessionStateError
}
