package interfaces

import "context"

// MembershipOracle answers whether a user may join a chat room.
// A user is authorized when the chat belongs to a project the user owns,
// supervises or is a member of. A chat with no project yields false.
type MembershipOracle interface {
	IsAuthorized(ctx context.Context, userID, chatID string) (bool, error)
}
