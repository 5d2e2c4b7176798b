package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)

	s := New(db, opts, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
		_ = db.Close()
	})
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, as, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if as != "" {
		req.Header.Set(wire.HeaderParticipant, as)
		req.Header.Set(wire.HeaderDisplayName, as+"-name")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// register makes a participant known by issuing any identified request.
func register(t *testing.T, ts *httptest.Server, id string) {
	t.Helper()
	require.Equal(t, http.StatusOK, call(t, ts, id, http.MethodGet, wire.PathConversations, nil, nil))
}

func createConversation(t *testing.T, ts *httptest.Server, from, to string) model.ConversationRecord {
	t.Helper()
	var rec model.ConversationRecord
	status := call(t, ts, from, http.MethodPost, wire.PathConversations, wire.CreateConversationRequest{TargetParticipantID: to}, &rec)
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, status)
	return rec
}

func TestMissingIdentityRejected(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	var errResp wire.ErrorResponse
	status := call(t, ts, "", http.MethodGet, wire.PathConversations, nil, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", errResp.Code)
}

func TestCreateConversation(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	register(t, ts, "ana")
	register(t, ts, "bruno")

	var rec model.ConversationRecord
	status := call(t, ts, "ana", http.MethodPost, wire.PathConversations, wire.CreateConversationRequest{TargetParticipantID: "bruno"}, &rec)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "bruno", rec.Participant.ID)
	assert.Equal(t, "bruno-name", rec.Participant.DisplayName)

	var again model.ConversationRecord
	status = call(t, ts, "bruno", http.MethodPost, wire.PathConversations, wire.CreateConversationRequest{TargetParticipantID: "ana"}, &again)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, rec.ID, again.ID)

	var errResp wire.ErrorResponse
	status = call(t, ts, "ana", http.MethodPost, wire.PathConversations, wire.CreateConversationRequest{TargetParticipantID: "ana"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", errResp.Code)

	status = call(t, ts, "ana", http.MethodPost, wire.PathConversations, wire.CreateConversationRequest{TargetParticipantID: "ghost"}, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListConversationsPaginates(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	register(t, ts, "ana")
	for _, other := range []string{"bruno", "carla", "davi"} {
		register(t, ts, other)
		createConversation(t, ts, "ana", other)
	}

	var first model.ConversationPage
	require.Equal(t, http.StatusOK, call(t, ts, "ana", http.MethodGet, wire.PathConversations+"?page=1&pageSize=2", nil, &first))
	assert.Len(t, first.Items, 2)
	assert.Equal(t, "2", first.NextCursor)

	var second model.ConversationPage
	require.Equal(t, http.StatusOK, call(t, ts, "ana", http.MethodGet, wire.PathConversations+"?page=2&pageSize=2", nil, &second))
	assert.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)

	status := call(t, ts, "ana", http.MethodGet, wire.PathConversations+"?page=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSendAndListMessages(t *testing.T) {
	_, ts := newTestServer(t, Options{MessagePageSize: 2})
	register(t, ts, "ana")
	register(t, ts, "bruno")
	conv := createConversation(t, ts, "ana", "bruno")

	var sent []model.RawMessage
	for _, content := range []string{"one", "two", "three"} {
		var raw model.RawMessage
		require.Equal(t, http.StatusCreated, call(t, ts, "ana", http.MethodPost, wire.MessagesPath(conv.ID), wire.SendMessageRequest{Content: content}, &raw))
		assert.NotEmpty(t, raw.ID)
		assert.Equal(t, "ana", raw.SenderID)
		assert.True(t, raw.Read)
		sent = append(sent, raw)
	}

	var latest model.MessagePage
	require.Equal(t, http.StatusOK, call(t, ts, "bruno", http.MethodGet, wire.MessagesPath(conv.ID), nil, &latest))
	require.Len(t, latest.Items, 2)
	assert.Equal(t, "two", latest.Items[0].Content)
	assert.Equal(t, "three", latest.Items[1].Content)
	assert.False(t, latest.Items[1].Read)
	require.NotEmpty(t, latest.NextCursor)

	var older model.MessagePage
	require.Equal(t, http.StatusOK, call(t, ts, "bruno", http.MethodGet, wire.MessagesPath(conv.ID)+"?cursor="+latest.NextCursor, nil, &older))
	require.Len(t, older.Items, 1)
	assert.Equal(t, sent[0].ID, older.Items[0].ID)
	assert.Empty(t, older.NextCursor)

	status := call(t, ts, "ana", http.MethodPost, wire.MessagesPath(conv.ID), wire.SendMessageRequest{Content: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMarkReadClearsUnread(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	register(t, ts, "ana")
	register(t, ts, "bruno")
	conv := createConversation(t, ts, "ana", "bruno")
	require.Equal(t, http.StatusCreated, call(t, ts, "ana", http.MethodPost, wire.MessagesPath(conv.ID), wire.SendMessageRequest{Content: "hi"}, nil))

	var page model.ConversationPage
	require.Equal(t, http.StatusOK, call(t, ts, "bruno", http.MethodGet, wire.PathConversations, nil, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Items[0].UnreadCount)
	assert.Equal(t, "hi", page.Items[0].LastMessageSummary)

	require.Equal(t, http.StatusNoContent, call(t, ts, "bruno", http.MethodPost, wire.ReadPath(conv.ID), nil, nil))

	require.Equal(t, http.StatusOK, call(t, ts, "bruno", http.MethodGet, wire.PathConversations, nil, &page))
	assert.Equal(t, 0, page.Items[0].UnreadCount)
}

func TestNonMemberGetsNotFound(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	register(t, ts, "ana")
	register(t, ts, "bruno")
	conv := createConversation(t, ts, "ana", "bruno")

	var errResp wire.ErrorResponse
	status := call(t, ts, "carla", http.MethodGet, wire.MessagesPath(conv.ID), nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errResp.Code)
}

func TestDeleteConversation(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	register(t, ts, "ana")
	register(t, ts, "bruno")
	conv := createConversation(t, ts, "ana", "bruno")

	require.Equal(t, http.StatusNoContent, call(t, ts, "ana", http.MethodDelete, wire.ConversationPath(conv.ID), nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, ts, "ana", http.MethodDelete, wire.ConversationPath(conv.ID), nil, nil))

	var page model.ConversationPage
	require.Equal(t, http.StatusOK, call(t, ts, "bruno", http.MethodGet, wire.PathConversations, nil, &page))
	assert.Empty(t, page.Items)
}

func TestBroadcastTypingPublishesFrame(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	register(t, ts, "ana")
	register(t, ts, "bruno")
	conv := createConversation(t, ts, "ana", "bruno")

	events, unsub := s.Hub().Subscribe(typingTopic(conv.ID))
	defer unsub()

	status := call(t, ts, "ana", http.MethodPost, wire.TypingPath(conv.ID), wire.TypingRequest{Action: model.TypingStart, SenderName: "Ana"}, nil)
	require.Equal(t, http.StatusNoContent, status)

	evt := <-events
	f, ok := evt.Payload.(wire.Frame)
	require.True(t, ok)
	assert.Equal(t, wire.FrameTypingStart, f.Type)
	require.NotNil(t, f.Typing)
	assert.Equal(t, "ana", f.Typing.SenderID)
	assert.Equal(t, "Ana", f.Typing.SenderName)

	status = call(t, ts, "ana", http.MethodPost, wire.TypingPath(conv.ID), wire.TypingRequest{Action: "wave"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
