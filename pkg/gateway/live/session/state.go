package session

// State is the lifecycle position of a Session.
type State int32

const (
	StateInitializing State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// Session outcomes reported to the Observer.
const (
	OutcomeCompleted     = "completed"
	OutcomeSetupFailed   = "setup_failed"
	OutcomeConnectFailed = "connect_failed"
	OutcomeFailed        = "failed"
)
