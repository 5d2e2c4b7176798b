package store

// Participant is a user known to the backend.
type Participant struct {
	ID          string
	DisplayName string
}

// Conversation is a conversation as seen by one of its members.
type Conversation struct {
	ID                 string
	Other              Participant
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
	Muted              bool
	Pinned             bool
	Nickname           string
}

// Member is one participant's settings in a conversation.
type Member struct {
	ConversationID string
	ParticipantID  string
	Muted          bool
	Pinned         bool
	Nickname       string
	LastReadAt     int64
}

// Message is a stored message. Seq orders messages and backs pagination.
type Message struct {
	Seq            int64
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Tags           []string
	CreatedAt      int64
}
