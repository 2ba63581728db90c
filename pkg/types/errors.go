package types

import "errors"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
	ErrInvalidID      = errors.New("identifier must be a UUID")
)
