package model

import "time"

// RawMessage is a message record as delivered by the Persistence Service
// or the change-notification stream.
type RawMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Tags           []string  `json:"tags,omitempty"`
	Read           bool      `json:"read,omitempty"`
}

// ConversationRecord is a conversation as returned by the Persistence Service,
// already scoped to the calling participant.
type ConversationRecord struct {
	ID                 string      `json:"id"`
	Participant        Participant `json:"participant"`
	LastMessageSummary string      `json:"lastMessageSummary"`
	LastMessageAt      time.Time   `json:"lastMessageAt"`
	UnreadCount        int         `json:"unreadCount"`
	Muted              bool        `json:"muted"`
	Pinned             bool        `json:"pinned"`
	Nickname           string      `json:"nickname,omitempty"`
}

// ToConversation converts the wire record to the canonical shape.
func (r ConversationRecord) ToConversation() Conversation {
	return Conversation{
		ID:                 r.ID,
		Participant:        r.Participant,
		LastMessageSummary: r.LastMessageSummary,
		LastMessageAt:      r.LastMessageAt,
		UnreadCount:        r.UnreadCount,
		Muted:              r.Muted,
		Pinned:             r.Pinned,
		Nickname:           r.Nickname,
	}
}

// ConversationPage is one page of the conversation directory.
type ConversationPage struct {
	Items      []ConversationRecord `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// MessagePage is one page of a conversation's history, ordered oldest first.
// NextCursor, when set, requests the page of messages older than Items[0].
type MessagePage struct {
	Items      []RawMessage `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}
