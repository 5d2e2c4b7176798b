package bus

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Event kinds consumed by the sync engine. Transports translate their wire
// frames into these kinds; the outbox publishes write responses as send acks.
const (
	KindMessageInserted  = "stream.message_inserted"
	KindMessageSendAck   = "stream.send_ack"
	KindTypingStart      = "signal.typing_start"
	KindTypingStop       = "signal.typing_stop"
	KindPresenceSnapshot = "signal.presence_snapshot"
)

// Event kinds published by the engine for observers (daemon API, tests).
const (
	KindMessageUpserted   = "message.upserted"
	KindMessageSendFailed = "message.send_failed"
	KindConversations     = "conversation.changed"
	KindTypingChanged     = "typing.changed"
	KindPresenceChanged   = "presence.changed"
	KindStatusChanged     = "session.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// MessageRef identifies a message inside a conversation.
type MessageRef struct {
	ConversationID string
	MessageID      string
}

// SendAck carries the Persistence Service's response to a write together
// with the temporary id of the entry it confirms.
type SendAck struct {
	ConversationID string
	TempID         string
	Record         model.RawMessage
}

// SendFailure is published when a write was rejected.
type SendFailure struct {
	ConversationID string
	TempID         string
	Err            string
}

// TypingChange carries the names currently typing in a conversation.
type TypingChange struct {
	ConversationID string
	Names          []string
}
