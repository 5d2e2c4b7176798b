package backend

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (s *Server) streamMessages(c echo.Context) error {
	return s.serveTopic(c, streamTopic(c.Param("id")), nil)
}

func (s *Server) streamTyping(c echo.Context) error {
	return s.serveTopic(c, typingTopic(c.Param("id")), nil)
}

// streamPresence counts the connection as the caller's heartbeat for as
// long as it stays open.
func (s *Server) streamPresence(c echo.Context) error {
	id := participant(c)
	s.hub.Connect(id)
	defer s.hub.Disconnect(id)

	snap := s.hub.Snapshot()
	return s.serveTopic(c, presenceTopic, &wire.Frame{Type: wire.FramePresenceSnapshot, Presence: &snap})
}

// serveTopic upgrades the request and forwards every frame published on
// topic until the peer or the server goes away.
func (s *Server) serveTopic(c echo.Context, topic string, initial *wire.Frame) error {
	events, unsub := s.hub.Subscribe(topic)
	defer unsub()

	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request().Context())
	if initial != nil {
		if err := s.write(ctx, conn, *initial); err != nil {
			return nil
		}
	}

	for {
		select {
		case evt := <-events:
			f, ok := evt.Payload.(wire.Frame)
			if !ok {
				continue
			}
			if err := s.write(ctx, conn, f); err != nil {
				s.logger.Debug("websocket write failed", zap.String("topic", topic), zap.Error(err))
				return nil
			}
		case <-ctx.Done():
			return nil
		case <-s.closing:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, f wire.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}
