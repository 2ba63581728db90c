package database

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"promanchat/pkg/types"
)

// pageBound turns a history cursor into the (send_date, id) pair a page
// must sort strictly below. The nil UUID sorts below every stored id, so a
// cursor without an ID excludes all messages at its instant.
func pageBound(c types.HistoryCursor) (time.Time, string) {
	if c.SendDate.IsZero() {
		return time.Now().Add(time.Second), uuid.Nil.String()
	}
	if c.ID == "" {
		return c.SendDate, uuid.Nil.String()
	}
	return c.SendDate, strings.ToLower(c.ID)
}
