package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated means no usable identity came with the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized means the identity may not join the requested chat.
	ErrUnauthorized = errors.New("not authorized for this chat")
	// ErrMembershipUnavailable means the membership lookup itself failed.
	ErrMembershipUnavailable = errors.New("membership lookup unavailable")

	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// StatusCode maps an admission error onto the HTTP status sent instead of
// upgrading.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrMembershipUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
