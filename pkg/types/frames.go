package types

import (
	"encoding/json"
	"fmt"
)

// Frame type tags shared by inbound and outbound frames.
const (
	FrameTypeChatMessage = "chat_message"
	FrameTypeUserTyping  = "user_typing"
	FrameTypeError       = "error"
)

// Error codes carried by error frames sent back to a single sender.
const (
	ErrorCodeInvalidMessage    = "invalid_message"
	ErrorCodePersistenceFailed = "persistence_failed"
	ErrorCodeRateLimited       = "rate_limited"
)

// Frame is a decoded inbound frame. The set of implementations is closed:
// ChatMessageFrame, UserTypingFrame and IgnoredFrame.
type Frame interface {
	FrameType() string
	sealed()
}

// ChatMessageFrame asks the server to persist and broadcast a message.
type ChatMessageFrame struct {
	Message       string
	AttachedFiles []string
}

// UserTypingFrame announces a typing state change.
type UserTypingFrame struct {
	IsTyping bool
}

// IgnoredFrame is any well-formed frame whose type the server does not handle.
type IgnoredFrame struct {
	Type string
}

func (ChatMessageFrame) FrameType() string { return FrameTypeChatMessage }
func (UserTypingFrame) FrameType() string  { return FrameTypeUserTyping }
func (f IgnoredFrame) FrameType() string   { return f.Type }

func (ChatMessageFrame) sealed() {}
func (UserTypingFrame) sealed()  {}
func (IgnoredFrame) sealed()     {}

type frameHeader struct {
	Type string `json:"type"`
}

type chatMessagePayload struct {
	Message       string          `json:"message"`
	AttachedFiles json.RawMessage `json:"attached_files"`
}

// attachmentIDs keeps the string entries of attached_files. Anything else,
// including a non-array value, names no file and is skipped.
func attachmentIDs(raw json.RawMessage) []string {
	var entries []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		var id string
		if json.Unmarshal(entry, &id) == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

type userTypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// DecodeFrame decodes one text frame. Unknown types decode to IgnoredFrame;
// anything that is not a JSON object with the expected field types returns
// ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	var header frameHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch header.Type {
	case FrameTypeChatMessage:
		var p chatMessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return ChatMessageFrame{Message: p.Message, AttachedFiles: attachmentIDs(p.AttachedFiles)}, nil
	case FrameTypeUserTyping:
		var p userTypingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return UserTypingFrame{IsTyping: p.IsTyping}, nil
	default:
		return IgnoredFrame{Type: header.Type}, nil
	}
}

// ChatMessageEvent is the outbound frame for a persisted message.
type ChatMessageEvent struct {
	Type    string       `json:"type"`
	Message *ChatMessage `json:"message"`
}

// UserTypingEvent is the outbound typing indicator.
type UserTypingEvent struct {
	Type     string      `json:"type"`
	User     UserSummary `json:"user"`
	IsTyping bool        `json:"is_typing"`
}

// ErrorEvent is sent only to the session whose frame failed.
type ErrorEvent struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func NewChatMessageEvent(msg *ChatMessage) ChatMessageEvent {
	return ChatMessageEvent{Type: FrameTypeChatMessage, Message: msg}
}

func NewUserTypingEvent(user UserSummary, isTyping bool) UserTypingEvent {
	return UserTypingEvent{Type: FrameTypeUserTyping, User: user, IsTyping: isTyping}
}

func NewErrorEvent(code, detail string) ErrorEvent {
	return ErrorEvent{Type: FrameTypeError, Error: code, Detail: detail}
}
