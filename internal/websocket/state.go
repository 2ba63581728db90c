package websocket

// State is the lifecycle position of one chat socket.
// Transitions only move forward: Connecting, Authorizing, Joined, Closed.
// A rejected handshake goes from Authorizing straight to Closed.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
