package msgbus

// State is the connection state of a Bus.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParseState maps a lifecycle event name to its State.
func ParseState(name string) (State, bool) {
	switch name {
	case "connecting":
		return StateConnecting, true
	case "connected":
		return StateConnected, true
	case "reconnecting":
		return StateReconnecting, true
	case "closed":
		return StateClosed, true
	default:
		return 0, false
	}
}
