package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultStartInterval is the minimum gap between two outgoing typing
// starts for the same conversation.
const DefaultStartInterval = time.Second

// Broadcaster sends typing signals on a conversation's ephemeral channel.
type Broadcaster interface {
	BroadcastTyping(ctx context.Context, action model.TypingAction, sig model.TypingSignal) error
}

// Options tunes a Handler.
type Options struct {
	TypingTimeout time.Duration
	StartInterval time.Duration
}

// Handler broadcasts the local user's typing state and folds inbound typing
// and presence signals into their sets.
type Handler struct {
	self     model.Participant
	out      Broadcaster
	bus      *bus.Bus
	logger   *zap.Logger
	typing   *Typing
	presence *Presence

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewHandler creates a signal handler for the local participant self.
func NewHandler(self model.Participant, out Broadcaster, b *bus.Bus, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StartInterval <= 0 {
		opts.StartInterval = DefaultStartInterval
	}
	h := &Handler{
		self:     self,
		out:      out,
		bus:      b,
		logger:   logger,
		presence: NewPresence(),
		limiters: make(map[string]*rate.Limiter),
		interval: opts.StartInterval,
	}
	h.typing = NewTyping(opts.TypingTimeout, h.typingChanged)
	return h
}

// StartTyping broadcasts a typing start. Repeated calls within the start
// interval are absorbed locally.
func (h *Handler) StartTyping(ctx context.Context, conversationID string) error {
	if !h.limiter(conversationID).Allow() {
		return nil
	}
	return h.broadcast(ctx, model.TypingStart, conversationID)
}

// StopTyping broadcasts a typing stop and resets the start throttle.
func (h *Handler) StopTyping(ctx context.Context, conversationID string) error {
	h.mu.Lock()
	delete(h.limiters, conversationID)
	h.mu.Unlock()
	return h.broadcast(ctx, model.TypingStop, conversationID)
}

func (h *Handler) broadcast(ctx context.Context, action model.TypingAction, conversationID string) error {
	if h.out == nil {
		return nil
	}
	sig := model.TypingSignal{
		ConversationID: conversationID,
		SenderID:       h.self.ID,
		SenderName:     h.self.DisplayName,
	}
	if err := h.out.BroadcastTyping(ctx, action, sig); err != nil {
		h.logger.Debug("typing broadcast failed",
			zap.String("conversation_id", conversationID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return fmt.Errorf("broadcast %s: %w", action, err)
	}
	return nil
}

func (h *Handler) limiter(conversationID string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[conversationID]
	if !ok {
		l = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[conversationID] = l
	}
	return l
}

// HandleTyping applies an inbound typing signal. Signals the local user
// sent are ignored.
func (h *Handler) HandleTyping(action model.TypingAction, sig model.TypingSignal) {
	if sig.SenderID == "" || sig.SenderID == h.self.ID {
		return
	}
	switch action {
	case model.TypingStart:
		h.typing.Start(sig)
	case model.TypingStop:
		h.typing.Stop(sig)
	default:
		h.logger.Debug("unknown typing action", zap.String("action", string(action)))
	}
}

// HandlePresence replaces the presence set with snap.
func (h *Handler) HandlePresence(snap model.PresenceSnapshot) {
	if h.presence.Apply(snap) {
		h.publish(bus.KindPresenceChanged, h.presence.Online())
	}
}

// Forget drops typing state and throttle for a deleted conversation.
func (h *Handler) Forget(conversationID string) {
	h.mu.Lock()
	delete(h.limiters, conversationID)
	h.mu.Unlock()
	h.typing.Clear(conversationID)
}

// Typing exposes the inbound typing set.
func (h *Handler) Typing() *Typing { return h.typing }

// Presence exposes the presence set.
func (h *Handler) Presence() *Presence { return h.presence }

// Close stops all typing expiry timers.
func (h *Handler) Close() {
	h.typing.Close()
}

func (h *Handler) typingChanged(conversationID string) {
	h.publish(bus.KindTypingChanged, bus.TypingChange{
		ConversationID: conversationID,
		Names:          h.typing.Names(conversationID),
	})
}

func (h *Handler) publish(kind string, payload any) {
	if h.bus != nil {
		h.bus.Publish(bus.NewEvent(kind, payload))
	}
}
