// Package normalize converts wire records into the engine's canonical shapes.
package normalize

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// UnknownSender labels messages whose sender matches neither participant.
const UnknownSender = "User"

// Context carries the two known participants of a conversation.
type Context struct {
	Self  model.Participant
	Other model.Participant
}

// Normalize converts a raw record into a Confirmed message. The boolean is
// false when the sender matched neither participant.
func Normalize(raw model.RawMessage, cc Context) (model.Message, bool) {
	name, known := senderName(raw.SenderID, cc)
	msg := model.Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       raw.SenderID,
		SenderName:     name,
		Content:        raw.Content,
		CreatedAt:      raw.CreatedAt,
		State:          model.Confirmed,
		Read:           raw.Read,
	}
	if len(raw.Tags) > 0 {
		msg.Tags = slices.Clone(raw.Tags)
	}
	return msg, known
}

func senderName(senderID string, cc Context) (string, bool) {
	switch {
	case senderID != "" && senderID == cc.Self.ID:
		return displayName(cc.Self), true
	case senderID != "" && senderID == cc.Other.ID:
		return displayName(cc.Other), true
	default:
		return UnknownSender, false
	}
}

func displayName(p model.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// Normalizer wraps Normalize and logs data inconsistencies.
type Normalizer struct {
	logger *zap.Logger
}

// New creates a Normalizer. A nil logger discards output.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts raw and warns when the sender is unknown.
func (n *Normalizer) Normalize(raw model.RawMessage, cc Context) model.Message {
	msg, known := Normalize(raw, cc)
	if !known {
		n.logger.Warn("message sender matches no conversation participant",
			zap.String("conversation_id", raw.ConversationID),
			zap.String("msg_id", raw.ID),
			zap.String("sender_id", raw.SenderID),
		)
	}
	return msg
}

// All normalizes a batch, preserving order.
func (n *Normalizer) All(raws []model.RawMessage, cc Context) []model.Message {
	out := make([]model.Message, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw, cc))
	}
	return out
}
