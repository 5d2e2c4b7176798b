package sync

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
)

// Snapshot is an immutable copy of everything the rendering layer shows.
type Snapshot struct {
	Status        status.State               `json:"status"`
	StatusReason  string                     `json:"statusReason,omitempty"`
	Self          model.Participant          `json:"self"`
	Conversations []model.Conversation       `json:"conversations"`
	Messages      map[string][]model.Message `json:"messages"`
	Typing        map[string][]string        `json:"typing"`
	Online        []string                   `json:"online"`
	TakenAt       time.Time                  `json:"takenAt"`
}

// Snapshot copies the current state. Messages holds every conversation
// with loaded messages; Typing only conversations where someone is typing.
func (e *Engine) Snapshot() Snapshot {
	convs := e.dir.List()
	snap := Snapshot{
		Status:        e.status.Current(),
		StatusReason:  e.status.Reason(),
		Self:          e.opts.Self,
		Conversations: convs,
		Messages:      make(map[string][]model.Message),
		Typing:        make(map[string][]string),
		Online:        e.signal.Presence().Online(),
		TakenAt:       time.Now(),
	}
	for _, c := range convs {
		if e.log.Loaded(c.ID) {
			snap.Messages[c.ID] = e.log.Messages(c.ID)
		}
		if names := e.signal.Typing().Names(c.ID); len(names) > 0 {
			snap.Typing[c.ID] = names
		}
	}
	return snap
}

// Typing returns who is typing in a conversation.
func (e *Engine) Typing(conversationID string) []string {
	return e.signal.Typing().Names(conversationID)
}
