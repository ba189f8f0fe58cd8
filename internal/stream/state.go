package stream

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
