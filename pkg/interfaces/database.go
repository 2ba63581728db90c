package interfaces

import (
	"context"

	"promanchat/pkg/types"
)

// MessageStore persists chat messages.
type MessageStore interface {
	// CreateMessage inserts a message and links the attachment ids that
	// resolve to stored files, in one transaction, then returns the message
	// with sender and attachments resolved. Unknown ids are skipped.
	CreateMessage(ctx context.Context, chatID, senderID, content string, attachmentIDs []string) (*types.ChatMessage, error)

	GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error)

	// ListMessages returns up to limit messages of a chat ordered strictly
	// before the cursor, newest first. A zero cursor starts from now.
	ListMessages(ctx context.Context, chatID string, before types.HistoryCursor, limit int) ([]*types.ChatMessage, error)
}

// FileResolver turns attachment ids into public file summaries.
type FileResolver interface {
	// ResolveFiles returns summaries for the ids that exist, ordered by
	// name then id. Unknown or malformed ids are omitted. Outbound messages
	// get their attachments from CreateMessage, which resolves them in the
	// same transaction; this is the standalone lookup for other callers.
	ResolveFiles(ctx context.Context, ids []string) ([]types.FileSummary, error)
}

// IdentityResolver looks up the public summary of a user.
type IdentityResolver interface {
	ResolveUser(ctx context.Context, userID string) (*types.UserSummary, error)
}

// ChatStore is everything the chat core needs from persistence.
// Both the SQLite manager and the Postgres store implement it.
type ChatStore interface {
	MembershipOracle
	MessageStore
	FileResolver
	IdentityResolver

	HealthCheck(ctx context.Context) error
	Close() error
}
