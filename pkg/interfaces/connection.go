package interfaces

import "promanchat/pkg/types"

// Connection is one live chat session as seen by the fan-out and dispatch
// layers.
// ARCHITECTURAL DISCOVERY: the hub and router never touch the socket; they
// only enqueue encoded frames, so tests can swap in in-memory sessions.
type Connection interface {
	// SessionID is unique per socket. Two sockets of one user differ here.
	SessionID() string

	UserID() string

	// User is the sender summary resolved at handshake.
	User() types.UserSummary

	RoomID() string

	// TrySend enqueues an encoded frame without blocking. It returns false
	// when the frame was dropped (buffer full or session closed).
	TrySend(payload []byte) bool

	Close() error
}
