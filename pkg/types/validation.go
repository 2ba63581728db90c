package types

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateContent checks a chat message body against the column bound.
// Length is measured in runes; maxLen <= 0 means DefaultMaxContentLength.
func ValidateContent(content string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxLen {
		return ErrContentTooLong
	}
	return nil
}

// IsValidID reports whether id parses as a UUID.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NormalizeAttachmentIDs drops malformed and duplicate ids, keeping the
// first-seen order of the rest.
// FUNCTIONAL DISCOVERY: malformed ids are treated like ids of files that do
// not exist, so they are skipped rather than failing the whole message.
func NormalizeAttachmentIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		canonical := parsed.String()
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}
