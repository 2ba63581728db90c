package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokens() *TokenManager {
	return NewTokenManager(TokenConfig{Secret: "test-secret", Issuer: "promanchat", TTL: time.Hour})
}

func TestTokenManager_RoundTrip(t *testing.T) {
	m := testTokens()
	token, err := m.Issue("user-1")
	require.NoError(t, err)

	userID, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := testTokens()

	expired := NewTokenManager(TokenConfig{Secret: "test-secret", Issuer: "promanchat", TTL: -time.Minute})
	expiredToken, err := expired.Issue("user-1")
	require.NoError(t, err)

	otherSecret, err := NewTokenManager(TokenConfig{Secret: "other", Issuer: "promanchat", TTL: time.Hour}).Issue("user-1")
	require.NoError(t, err)

	otherIssuer, err := NewTokenManager(TokenConfig{Secret: "test-secret", Issuer: "someone-else", TTL: time.Hour}).Issue("user-1")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"expired", expiredToken, ErrExpiredToken},
		{"wrong secret", otherSecret, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"alg none", noneToken, ErrInvalidToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTokenManager_SubjectFallback(t *testing.T) {
	m := testTokens()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "from-sub",
		Issuer:    "promanchat",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	userID, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "from-sub", userID)
}

func TestTokenManager_IssueRequiresUser(t *testing.T) {
	_, err := testTokens().Issue("")
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"none", func(*http.Request) {}, ""},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer abc") }, "abc"},
		{"basic header ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, ""},
		{"query parameter", func(r *http.Request) { r.URL.RawQuery = "token=q1" }, "q1"},
		{"subprotocol", func(r *http.Request) {
			r.Header.Set("Sec-WebSocket-Protocol", "promanchat, bearer.sp1")
		}, "sp1"},
		{"header wins over query", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer h1")
			r.URL.RawQuery = "token=q1"
		}, "h1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/chat/x", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}

func TestNegotiatedSubprotocol(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/chat/x", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "bearer.tok, promanchat")
	assert.Equal(t, "promanchat", NegotiatedSubprotocol(r))

	r.Header.Set("Sec-WebSocket-Protocol", "bearer.tok")
	assert.Equal(t, "", NegotiatedSubprotocol(r))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(ErrUnauthenticated))
	assert.Equal(t, http.StatusForbidden, StatusCode(ErrUnauthorized))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(ErrMembershipUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(assert.AnError))
}
