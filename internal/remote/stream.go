package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/subscription"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	readLimit    = 1 << 20
	eventsBuffer = 64
)

// translateFunc maps a frame to a bus event; false drops the frame.
type translateFunc func(wire.Frame) (bus.Event, bool)

// SubscribeMessages opens the message stream of a conversation.
func (c *Client) SubscribeMessages(ctx context.Context, conversationID string) (subscription.Handle, error) {
	return c.subscribe(ctx, wire.StreamPath(url.PathEscape(conversationID)), func(f wire.Frame) (bus.Event, bool) {
		if f.Type != wire.FrameMessageInserted || f.Message == nil {
			return bus.Event{}, false
		}
		raw := *f.Message
		if raw.ConversationID == "" {
			raw.ConversationID = conversationID
		}
		return bus.NewEvent(bus.KindMessageInserted, raw), true
	})
}

// SubscribeTyping opens the typing channel of a conversation.
func (c *Client) SubscribeTyping(ctx context.Context, conversationID string) (subscription.Handle, error) {
	return c.subscribe(ctx, wire.SignalsPath(url.PathEscape(conversationID)), func(f wire.Frame) (bus.Event, bool) {
		if f.Typing == nil {
			return bus.Event{}, false
		}
		sig := *f.Typing
		if sig.ConversationID == "" {
			sig.ConversationID = conversationID
		}
		switch f.Type {
		case wire.FrameTypingStart:
			return bus.NewEvent(bus.KindTypingStart, sig), true
		case wire.FrameTypingStop:
			return bus.NewEvent(bus.KindTypingStop, sig), true
		}
		return bus.Event{}, false
	})
}

// SubscribePresence opens the presence heartbeat channel. The server
// counts the open connection as self's heartbeat.
func (c *Client) SubscribePresence(ctx context.Context, self model.Participant) (subscription.Handle, error) {
	return c.subscribe(ctx, wire.PathPresence, func(f wire.Frame) (bus.Event, bool) {
		if f.Type != wire.FramePresenceSnapshot || f.Presence == nil {
			return bus.Event{}, false
		}
		return bus.NewEvent(bus.KindPresenceSnapshot, *f.Presence), true
	})
}

// BroadcastTyping publishes a typing signal. Best effort, no retries.
func (c *Client) BroadcastTyping(ctx context.Context, action model.TypingAction, sig model.TypingSignal) error {
	return c.doJSON(ctx, http.MethodPost, wire.TypingPath(url.PathEscape(sig.ConversationID)),
		wire.TypingRequest{Action: action, SenderName: sig.SenderName}, nil, false)
}

func (c *Client) wsURL(path string) string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + path
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + path
	default:
		return c.baseURL + path
	}
}

func (c *Client) subscribe(ctx context.Context, path string, translate translateFunc) (subscription.Handle, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL(path), &websocket.DialOptions{
		HTTPHeader: c.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	h := &wsHandle{
		conn:   conn,
		events: make(chan bus.Event, eventsBuffer),
		cancel: cancel,
	}
	go h.read(readCtx, path, translate, c.logger)
	return h, nil
}

// wsHandle is one websocket subscription. Its Events channel closes when
// the connection ends for any reason.
type wsHandle struct {
	conn   *websocket.Conn
	events chan bus.Event
	cancel context.CancelFunc
	once   sync.Once
}

func (h *wsHandle) Events() <-chan bus.Event { return h.events }

func (h *wsHandle) Close() error {
	var err error
	h.once.Do(func() {
		h.cancel()
		err = h.conn.Close(websocket.StatusNormalClosure, "")
	})
	if err != nil && !isClosed(err) {
		return err
	}
	return nil
}

func (h *wsHandle) read(ctx context.Context, path string, translate translateFunc, logger *zap.Logger) {
	defer close(h.events)
	for {
		var f wire.Frame
		if err := wsjson.Read(ctx, h.conn, &f); err != nil {
			if ctx.Err() == nil && !isClosed(err) {
				logger.Warn("subscription read failed", zap.String("path", path), zap.Error(err))
			}
			return
		}
		evt, ok := translate(f)
		if !ok {
			logger.Debug("ignoring frame", zap.String("path", path), zap.String("type", f.Type))
			continue
		}
		select {
		case h.events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
