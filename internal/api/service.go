// Package api serves a session's sync engine to rendering layers over
// gRPC on a Unix socket.
package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Engine is the part of the sync engine the API drives.
type Engine interface {
	Snapshot() intsync.Snapshot
	Messages(conversationID string) ([]model.Message, error)
	OpenConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	LoadOlder(ctx context.Context, conversationID string) (int, error)
	Send(ctx context.Context, conversationID, content string) (model.Message, error)
	Retry(ctx context.Context, conversationID, messageID string) (model.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
	CreateConversation(ctx context.Context, targetParticipantID string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ReloadConversations(ctx context.Context) error
}

const watchBuffer = 256

// Service implements SyncServer on top of an Engine.
type Service struct {
	engine      Engine
	bus         *bus.Bus
	sessionName string
	logger      *zap.Logger
}

// NewService creates the API service of one session.
func NewService(sessionName string, engine Engine, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, bus: b, sessionName: sessionName, logger: logger}
}

func (s *Service) GetSnapshot(_ context.Context, _ *Empty) (*intsync.Snapshot, error) {
	snap := s.engine.Snapshot()
	return &snap, nil
}

func (s *Service) ListMessages(_ context.Context, req *ConversationRequest) (*MessagesResponse, error) {
	msgs, err := s.engine.Messages(req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessagesResponse{Messages: msgs}, nil
}

func (s *Service) OpenConversation(ctx context.Context, req *ConversationRequest) (*MessagesResponse, error) {
	msgs, err := s.engine.OpenConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessagesResponse{Messages: msgs}, nil
}

func (s *Service) LoadOlder(ctx context.Context, req *ConversationRequest) (*LoadOlderResponse, error) {
	n, err := s.engine.LoadOlder(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LoadOlderResponse{Added: n}, nil
}

func (s *Service) Send(ctx context.Context, req *SendRequest) (*MessageResponse, error) {
	msg, err := s.engine.Send(ctx, req.ConversationID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *Service) Retry(ctx context.Context, req *RetryRequest) (*MessageResponse, error) {
	msg, err := s.engine.Retry(ctx, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	if err := s.engine.MarkRead(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) StartTyping(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	if err := s.engine.StartTyping(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) StopTyping(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	if err := s.engine.StopTyping(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationResponse, error) {
	conv, err := s.engine.CreateConversation(ctx, req.TargetParticipantID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationResponse{Conversation: conv}, nil
}

func (s *Service) DeleteConversation(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	if err := s.engine.DeleteConversation(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) ReloadConversations(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.ReloadConversations(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// WatchEvents streams engine events until the client goes away. Events
// with payloads that fail to encode are sent without a payload.
func (s *Service) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStreamingServer[EventEnvelope]) error {
	ch, unsub := s.bus.Subscribe("", watchBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchesPrefix(evt.Kind, req.Prefixes) {
				continue
			}
			env := &EventEnvelope{
				EventID:          uuid.NewString(),
				Session:          s.sessionName,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
			}
			if evt.Payload != nil {
				payload, err := json.Marshal(evt.Payload)
				if err != nil {
					s.logger.Warn("encode event payload", zap.String("kind", evt.Kind), zap.Error(err))
				} else {
					env.Payload = payload
				}
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matchesPrefix(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}
