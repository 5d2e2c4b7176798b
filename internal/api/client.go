package api

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a typed client of a session daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSnapshot(ctx context.Context) (*intsync.Snapshot, error) {
	return invoke[intsync.Snapshot](ctx, c, "GetSnapshot", &Empty{})
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	resp, err := invoke[MessagesResponse](ctx, c, "ListMessages", &ConversationRequest{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) OpenConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	resp, err := invoke[MessagesResponse](ctx, c, "OpenConversation", &ConversationRequest{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	resp, err := invoke[LoadOlderResponse](ctx, c, "LoadOlder", &ConversationRequest{ConversationID: conversationID})
	if err != nil {
		return 0, err
	}
	return resp.Added, nil
}

func (c *Client) Send(ctx context.Context, conversationID, content string) (model.Message, error) {
	resp, err := invoke[MessageResponse](ctx, c, "Send", &SendRequest{ConversationID: conversationID, Content: content})
	if err != nil {
		return model.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) Retry(ctx context.Context, conversationID, messageID string) (model.Message, error) {
	resp, err := invoke[MessageResponse](ctx, c, "Retry", &RetryRequest{ConversationID: conversationID, MessageID: messageID})
	if err != nil {
		return model.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, "MarkRead", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) StartTyping(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, "StartTyping", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) StopTyping(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, "StopTyping", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) CreateConversation(ctx context.Context, targetParticipantID string) (model.Conversation, error) {
	resp, err := invoke[ConversationResponse](ctx, c, "CreateConversation", &CreateConversationRequest{TargetParticipantID: targetParticipantID})
	if err != nil {
		return model.Conversation{}, err
	}
	return resp.Conversation, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, "DeleteConversation", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) ReloadConversations(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, "ReloadConversations", &Empty{})
	return err
}

// WatchEvents streams events whose kind starts with one of prefixes.
func (c *Client) WatchEvents(ctx context.Context, prefixes ...string) (grpc.ServerStreamingClient[EventEnvelope], error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchEventsRequest, EventEnvelope]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&WatchEventsRequest{Prefixes: prefixes}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
