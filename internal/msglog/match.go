package msglog

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// DefaultMatchWindow bounds how long after an optimistic insert a confirmed
// record may still be reconciled against it.
const DefaultMatchWindow = 30 * time.Second

// Matches reports whether incoming is the server's copy of the optimistic
// entry pending. Client and server ids live in different spaces, so the match
// is by sender and content. The record must have arrived after the pending
// entry was created and within window of it, and its own creation time must
// also lie within window of the entry's, so a history record with the same
// content never claims a fresh send.
func Matches(pending, incoming model.Message, arrivedAt time.Time, window time.Duration) bool {
	if pending.State != model.Pending || incoming.State != model.Confirmed {
		return false
	}
	if pending.SenderID != incoming.SenderID || pending.Content != incoming.Content {
		return false
	}
	if arrivedAt.Before(pending.CreatedAt) || arrivedAt.Sub(pending.CreatedAt) > window {
		return false
	}
	skew := incoming.CreatedAt.Sub(pending.CreatedAt)
	return skew >= -window && skew <= window
}
