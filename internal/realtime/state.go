package realtime

// State is the connection state of a Channel. The lifecycle is
// Disconnected -> Connecting -> Open -> (Closed | Error), with Error looping
// back to Connecting after the reconnect delay.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
