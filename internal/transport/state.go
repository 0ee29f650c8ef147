package transport

// State is the connection lifecycle of a Client. Transitions:
// Disconnected -> Connecting -> Connected -> Reconnecting -> Connected ...
// and any state -> Disconnected on Close.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// StateChange is delivered on the state stream. Err is set when the
// transition was caused by a failure (failed handshake, dropped connection).
type StateChange struct {
	State State
	Err   error
}
