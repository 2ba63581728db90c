package types

import (
	"time"
)

// DefaultMaxContentLength mirrors the messages.content column bound.
const DefaultMaxContentLength = 300

// UserSummary is the public shape of a user inside chat payloads.
// ProfileImageURL is null when the user has no stored profile image.
type UserSummary struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// FileSummary is the public shape of an attached file.
type FileSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	FileURL *string `json:"file_url"`
}

// ChatMessage is a persisted chat message with its relations resolved.
// FUNCTIONAL DISCOVERY: SendDate is assigned by the store at insert time,
// never by the client.
type ChatMessage struct {
	ID       string        `json:"id"`
	ChatID   string        `json:"chat"`
	Sender   UserSummary   `json:"sender"`
	SendDate time.Time     `json:"send_date"`
	Content  string        `json:"content"`
	Attached []FileSummary `json:"attached"`
}

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID string
}

// IsZero reports whether no identity was established.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// HistoryCursor marks where a history page ended. The next page holds the
// messages ordered strictly before (SendDate, ID) in newest-first order.
// The zero cursor starts at the newest message. An empty ID skips every
// message sent at exactly SendDate.
type HistoryCursor struct {
	SendDate time.Time
	ID       string
}

// CursorAt returns the cursor continuing below msg.
func CursorAt(msg *ChatMessage) HistoryCursor {
	return HistoryCursor{SendDate: msg.SendDate, ID: msg.ID}
}

func (c HistoryCursor) IsZero() bool {
	return c.SendDate.IsZero() && c.ID == ""
}

// Validate rejects an ID that is not a UUID, or an ID without a SendDate.
func (c HistoryCursor) Validate() error {
	if c.ID == "" {
		return nil
	}
	if c.SendDate.IsZero() || !IsValidID(c.ID) {
		return ErrInvalidID
	}
	return nil
}
