package model

import "time"

// Participant identifies one side of a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Conversation is the engine's canonical view of a conversation.
type Conversation struct {
	ID                 string      `json:"id"`
	Participant        Participant `json:"participant"`
	LastMessageSummary string      `json:"lastMessageSummary"`
	LastMessageAt      time.Time   `json:"lastMessageAt"`
	UnreadCount        int         `json:"unreadCount"`
	Muted              bool        `json:"muted"`
	Pinned             bool        `json:"pinned"`
	Nickname           string      `json:"nickname,omitempty"`
}

// DisplayName returns the nickname when set, otherwise the participant name.
func (c Conversation) DisplayName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	if c.Participant.DisplayName != "" {
		return c.Participant.DisplayName
	}
	return c.Participant.ID
}

// Message is the engine's canonical message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	SenderName     string         `json:"senderName"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"createdAt"`
	State          LifecycleState `json:"state"`
	Tags           []string       `json:"tags,omitempty"`
	Read           bool           `json:"read"`
}

// TypingSignal is carried on a conversation's ephemeral channel.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
}

// PresenceEntry is one heartbeat record from the presence channel.
type PresenceEntry struct {
	ParticipantID string    `json:"participantId"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

// PresenceSnapshot is the full set of heartbeats known to the transport.
type PresenceSnapshot struct {
	Entries []PresenceEntry `json:"entries"`
}

// TypingAction distinguishes the two typing signals.
type TypingAction string

const (
	TypingStart TypingAction = "typing_start"
	TypingStop  TypingAction = "typing_stop"
)
