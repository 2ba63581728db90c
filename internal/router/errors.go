package router

import "errors"

var (
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrPersistenceFailure = errors.New("message could not be persisted")
	ErrNilConnection      = errors.New("nil connection")
)
