package interfaces

import "errors"

// Lookup errors shared by every ChatStore implementation.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
)
