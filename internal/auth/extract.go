package auth

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// SubprotocolPrefix marks a Sec-WebSocket-Protocol entry that carries a
// bearer token, for browser clients that cannot set headers.
const SubprotocolPrefix = "bearer."

// TokenFromRequest finds a bearer token in the Authorization header, the
// token query parameter or a bearer.<token> subprotocol, in that order.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	for _, proto := range websocket.Subprotocols(r) {
		if token, ok := strings.CutPrefix(proto, SubprotocolPrefix); ok && token != "" {
			return token
		}
	}
	return ""
}

// NegotiatedSubprotocol picks the first offered subprotocol that is not a
// token carrier, or "" when there is none.
func NegotiatedSubprotocol(r *http.Request) string {
	for _, proto := range websocket.Subprotocols(r) {
		if !strings.HasPrefix(proto, SubprotocolPrefix) {
			return proto
		}
	}
	return ""
}
