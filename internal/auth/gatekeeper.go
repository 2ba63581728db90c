package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Admission is the outcome of a successful handshake.
type Admission struct {
	Identity types.Identity
	User     types.UserSummary
	ChatID   string
}

// Gatekeeper authenticates a request and authorizes it for one chat.
// ARCHITECTURAL DISCOVERY: every check runs before the websocket upgrade so
// a rejected client gets a plain HTTP status and never a socket.
type Gatekeeper struct {
	tokens  TokenVerifier
	oracle  interfaces.MembershipOracle
	users   interfaces.IdentityResolver
	timeout time.Duration
	logger  zerolog.Logger
	// lookups collapses concurrent summary lookups for the same user, as
	// happens when every tab of a client reconnects at once.
	lookups singleflight.Group
}

func NewGatekeeper(tokens TokenVerifier, oracle interfaces.MembershipOracle, users interfaces.IdentityResolver, timeout time.Duration, logger zerolog.Logger) *Gatekeeper {
	return &Gatekeeper{
		tokens:  tokens,
		oracle:  oracle,
		users:   users,
		timeout: timeout,
		logger:  logger.With().Str("component", "gatekeeper").Logger(),
	}
}

// Authenticate resolves the request's identity.
func (g *Gatekeeper) Authenticate(r *http.Request) (types.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return types.Identity{}, ErrUnauthenticated
	}
	userID, err := g.tokens.Verify(token)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return types.Identity{UserID: userID}, nil
}

// Authorize asks the membership oracle whether identity may join chatID.
// Oracle failures fail closed with ErrMembershipUnavailable.
func (g *Gatekeeper) Authorize(ctx context.Context, identity types.Identity, chatID string) error {
	if identity.IsZero() {
		return ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.oracle.IsAuthorized(ctx, identity.UserID, chatID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", identity.UserID).Str("chat_id", chatID).Msg("membership check failed")
		return fmt.Errorf("%w: %v", ErrMembershipUnavailable, err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// Admit runs the whole handshake: authenticate, authorize, then resolve
// the sender summary used in outbound frames.
func (g *Gatekeeper) Admit(r *http.Request, chatID string) (*Admission, error) {
	identity, err := g.Authenticate(r)
	if err != nil {
		return nil, err
	}
	if err := g.Authorize(r.Context(), identity, chatID); err != nil {
		return nil, err
	}

	user, err := g.resolveUser(r.Context(), identity.UserID)
	if errors.Is(err, interfaces.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMembershipUnavailable, err)
	}

	return &Admission{Identity: identity, User: *user, ChatID: chatID}, nil
}

func (g *Gatekeeper) resolveUser(ctx context.Context, userID string) (*types.UserSummary, error) {
	v, err, _ := g.lookups.Do(userID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.users.ResolveUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.UserSummary), nil
}
