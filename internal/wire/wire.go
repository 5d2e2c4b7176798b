// Package wire defines the JSON shapes exchanged with the Persistence
// Service, the change-notification stream and the signal transport.
package wire

import "github.com/matheus3301/chatsync/internal/model"

// Identity headers sent with every request.
const (
	HeaderParticipant = "X-Participant-Id"
	HeaderDisplayName = "X-Display-Name"
)

// Frame types pushed over websocket subscriptions.
const (
	FrameMessageInserted  = "message_inserted"
	FrameTypingStart      = "typing_start"
	FrameTypingStop       = "typing_stop"
	FramePresenceSnapshot = "presence_snapshot"
)

// Frame is one websocket message. Exactly one payload field is set,
// matching Type.
type Frame struct {
	Type     string                  `json:"type"`
	Message  *model.RawMessage       `json:"message,omitempty"`
	Typing   *model.TypingSignal     `json:"typing,omitempty"`
	Presence *model.PresenceSnapshot `json:"presence,omitempty"`
}

// SendMessageRequest is the body of POST /v1/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	TargetParticipantID string `json:"targetParticipantId"`
}

// TypingRequest is the body of POST /v1/signals/conversations/{id}/typing.
type TypingRequest struct {
	Action     model.TypingAction `json:"action"`
	SenderName string             `json:"senderName,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Paths of the HTTP and websocket endpoints.
const (
	PathConversations = "/v1/conversations"
	PathPresence      = "/v1/presence"
)

// MessagesPath is the history and send endpoint of a conversation.
func MessagesPath(conversationID string) string {
	return PathConversations + "/" + conversationID + "/messages"
}

// ReadPath is the read-receipt endpoint of a conversation.
func ReadPath(conversationID string) string {
	return PathConversations + "/" + conversationID + "/read"
}

// ConversationPath addresses a single conversation.
func ConversationPath(conversationID string) string {
	return PathConversations + "/" + conversationID
}

// StreamPath is the websocket message stream of a conversation.
func StreamPath(conversationID string) string {
	return "/v1/stream/conversations/" + conversationID
}

// SignalsPath is the websocket typing channel of a conversation.
func SignalsPath(conversationID string) string {
	return "/v1/signals/conversations/" + conversationID
}

// TypingPath is where typing signals are broadcast.
func TypingPath(conversationID string) string {
	return SignalsPath(conversationID) + "/typing"
}
