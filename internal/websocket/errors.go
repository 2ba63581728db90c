package websocket

import "errors"

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrRoomNotFound  = errors.New("room id cannot be empty")
)
