package backend

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/msglog"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

func (s *Server) listConversations(c echo.Context) error {
	page, err := intParam(c, "page", 1)
	if err != nil || page < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	pageSize, err := intParam(c, "pageSize", defaultPageSize)
	if err != nil || pageSize < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pageSize")
	}
	pageSize = min(pageSize, maxPageSize)

	convs, err := s.db.ListConversations(participant(c), pageSize+1, (page-1)*pageSize)
	if err != nil {
		return err
	}
	out := model.ConversationPage{Items: make([]model.ConversationRecord, 0, len(convs))}
	if len(convs) > pageSize {
		convs = convs[:pageSize]
		out.NextCursor = strconv.Itoa(page + 1)
	}
	for _, conv := range convs {
		out.Items = append(out.Items, conversationRecord(conv))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createConversation(c echo.Context) error {
	var req wire.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	self := participant(c)
	if req.TargetParticipantID == "" || req.TargetParticipantID == self {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid targetParticipantId")
	}
	target, err := s.db.GetParticipant(req.TargetParticipantID)
	if err != nil {
		return err
	}
	if target == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown participant")
	}

	id, created, err := s.db.CreateConversation(shortuuid.New(), self, target.ID)
	if err != nil {
		return err
	}
	conv, err := s.db.GetConversation(self, id)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info("conversation created", zap.String("conversation_id", id))
	}
	return c.JSON(status, conversationRecord(*conv))
}

func (s *Server) deleteConversation(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.db.DeleteConversation(id); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listMessages(c echo.Context) error {
	var before int64
	if cursor := c.QueryParam("cursor"); cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || seq <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
		}
		before = seq
	}

	msgs, err := s.db.ListMessages(c.Param("id"), before, s.pageSize+1)
	if err != nil {
		return err
	}
	out := model.MessagePage{Items: make([]model.RawMessage, 0, len(msgs))}
	if len(msgs) > s.pageSize {
		msgs = msgs[len(msgs)-s.pageSize:]
		out.NextCursor = strconv.FormatInt(msgs[0].Seq, 10)
	}
	m := member(c)
	for _, msg := range msgs {
		raw := rawMessage(msg)
		raw.Read = msg.SenderID == m.ParticipantID || msg.CreatedAt <= m.LastReadAt
		out.Items = append(out.Items, raw)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) sendMessage(c echo.Context) error {
	var req wire.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	msg := &store.Message{
		ID:             shortuuid.New(),
		ConversationID: c.Param("id"),
		SenderID:       participant(c),
		Content:        req.Content,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := s.db.InsertMessage(msg, msglog.Summarize(msg.Content)); err != nil {
		return err
	}

	pushed := rawMessage(*msg)
	s.hub.Publish(streamTopic(msg.ConversationID), wire.Frame{Type: wire.FrameMessageInserted, Message: &pushed})

	// The sender has read its own message.
	resp := pushed
	resp.Read = true
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) markRead(c echo.Context) error {
	if err := s.db.MarkRead(c.Param("id"), participant(c), time.Now().UnixMilli()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) broadcastTyping(c echo.Context) error {
	var req wire.TypingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	var frameType string
	switch req.Action {
	case model.TypingStart:
		frameType = wire.FrameTypingStart
	case model.TypingStop:
		frameType = wire.FrameTypingStop
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid action")
	}
	sig := &model.TypingSignal{
		ConversationID: c.Param("id"),
		SenderID:       participant(c),
		SenderName:     req.SenderName,
	}
	s.hub.Publish(typingTopic(sig.ConversationID), wire.Frame{Type: frameType, Typing: sig})
	return c.NoContent(http.StatusNoContent)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func conversationRecord(c store.Conversation) model.ConversationRecord {
	rec := model.ConversationRecord{
		ID:                 c.ID,
		Participant:        model.Participant{ID: c.Other.ID, DisplayName: c.Other.DisplayName},
		LastMessageSummary: c.LastMessagePreview,
		UnreadCount:        c.UnreadCount,
		Muted:              c.Muted,
		Pinned:             c.Pinned,
		Nickname:           c.Nickname,
	}
	if c.LastMessageAt > 0 {
		rec.LastMessageAt = time.UnixMilli(c.LastMessageAt)
	}
	return rec
}

func rawMessage(m store.Message) model.RawMessage {
	return model.RawMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      time.UnixMilli(m.CreatedAt),
		Tags:           m.Tags,
	}
}
