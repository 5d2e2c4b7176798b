package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/wire"
)

// ListConversations returns one page of the caller's conversations.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) (model.ConversationPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	var out model.ConversationPage
	err := c.doJSON(ctx, http.MethodGet, wire.PathConversations+"?"+q.Encode(), nil, &out, true)
	return out, err
}

// ListMessages returns the newest page of a conversation, or the page
// before cursor when set.
func (c *Client) ListMessages(ctx context.Context, conversationID, cursor string) (model.MessagePage, error) {
	path := wire.MessagesPath(url.PathEscape(conversationID))
	if cursor != "" {
		path += "?" + url.Values{"cursor": {cursor}}.Encode()
	}
	var out model.MessagePage
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true)
	return out, err
}

// SendMessage writes a message. Writes are never retried.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (model.RawMessage, error) {
	var out model.RawMessage
	err := c.doJSON(ctx, http.MethodPost, wire.MessagesPath(url.PathEscape(conversationID)),
		wire.SendMessageRequest{Content: content}, &out, false)
	return out, err
}

// CreateConversation starts a conversation with targetParticipantID.
func (c *Client) CreateConversation(ctx context.Context, targetParticipantID string) (model.ConversationRecord, error) {
	var out model.ConversationRecord
	err := c.doJSON(ctx, http.MethodPost, wire.PathConversations,
		wire.CreateConversationRequest{TargetParticipantID: targetParticipantID}, &out, false)
	return out, err
}

// MarkRead records that the caller read the conversation. Receipts are
// best effort and sent exactly once.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodPost, wire.ReadPath(url.PathEscape(conversationID)), nil, nil, false)
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.doJSON(ctx, http.MethodDelete, wire.ConversationPath(url.PathEscape(conversationID)), nil, nil, true)
}
