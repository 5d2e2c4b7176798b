package sync

import (
	"context"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/subscription"
)

// Persistence is the request/response Persistence/Query Service.
type Persistence interface {
	ListConversations(ctx context.Context, page, pageSize int) (model.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID, cursor string) (model.MessagePage, error)
	SendMessage(ctx context.Context, conversationID, content string) (model.RawMessage, error)
	CreateConversation(ctx context.Context, targetParticipantID string) (model.ConversationRecord, error)
	MarkRead(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ChangeStream opens per-conversation push subscriptions. Handles emit
// bus.KindMessageInserted events carrying a model.RawMessage.
type ChangeStream interface {
	SubscribeMessages(ctx context.Context, conversationID string) (subscription.Handle, error)
}

// SignalTransport is the best-effort ephemeral channel. Typing handles emit
// bus.KindTypingStart and bus.KindTypingStop with a model.TypingSignal;
// presence handles emit bus.KindPresenceSnapshot with a model.PresenceSnapshot.
type SignalTransport interface {
	SubscribeTyping(ctx context.Context, conversationID string) (subscription.Handle, error)
	SubscribePresence(ctx context.Context, self model.Participant) (subscription.Handle, error)
	BroadcastTyping(ctx context.Context, action model.TypingAction, sig model.TypingSignal) error
}
