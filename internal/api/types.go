package api

import (
	"encoding/json"

	"github.com/matheus3301/chatsync/internal/model"
)

// Empty is the request or response of calls without arguments.
type Empty struct{}

// ConversationRequest addresses one conversation.
type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// SendRequest is the input of Send.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// RetryRequest is the input of Retry.
type RetryRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// CreateConversationRequest is the input of CreateConversation.
type CreateConversationRequest struct {
	TargetParticipantID string `json:"targetParticipantId"`
}

// MessagesResponse carries a conversation's log.
type MessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

// MessageResponse carries one message.
type MessageResponse struct {
	Message model.Message `json:"message"`
}

// ConversationResponse carries one conversation.
type ConversationResponse struct {
	Conversation model.Conversation `json:"conversation"`
}

// LoadOlderResponse reports how many older messages were added.
type LoadOlderResponse struct {
	Added int `json:"added"`
}

// WatchEventsRequest filters WatchEvents by kind prefix. No prefixes means
// every event.
type WatchEventsRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

// EventEnvelope is one bus event sent to a watcher.
type EventEnvelope struct {
	EventID          string          `json:"eventId"`
	Session          string          `json:"session"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
