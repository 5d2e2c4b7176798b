package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/subscription"
)

var (
	self  = model.Participant{ID: "u-self", DisplayName: "Me"}
	ana   = model.Participant{ID: "u-ana", DisplayName: "Ana"}
	bruno = model.Participant{ID: "u-bruno", DisplayName: "Bruno"}
)

// fakePersistence is an in-memory Persistence Service.
type fakePersistence struct {
	mu        sync.Mutex
	convs     []model.ConversationRecord
	messages  map[string][]model.RawMessage
	older     map[string]model.MessagePage
	latestCur map[string]string
	seq       int
	sendErr   map[string]error
	sendGate  chan struct{}
	listErr   error
	deleteErr error
	reads     []string
	deleted   []string
	sends     int
}

func newFakePersistence(convs ...model.ConversationRecord) *fakePersistence {
	return &fakePersistence{
		convs:     convs,
		messages:  map[string][]model.RawMessage{},
		older:     map[string]model.MessagePage{},
		latestCur: map[string]string{},
		sendErr:   map[string]error{},
	}
}

func (p *fakePersistence) ListConversations(ctx context.Context, page, pageSize int) (model.ConversationPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return model.ConversationPage{}, p.listErr
	}
	start := (page - 1) * pageSize
	if start >= len(p.convs) {
		return model.ConversationPage{}, nil
	}
	end := min(start+pageSize, len(p.convs))
	res := model.ConversationPage{Items: append([]model.ConversationRecord(nil), p.convs[start:end]...)}
	if end < len(p.convs) {
		res.NextCursor = fmt.Sprint(page + 1)
	}
	return res, nil
}

func (p *fakePersistence) ListMessages(ctx context.Context, conversationID, cursor string) (model.MessagePage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return model.MessagePage{}, p.listErr
	}
	if cursor != "" {
		return p.older[conversationID+"|"+cursor], nil
	}
	return model.MessagePage{
		Items:      append([]model.RawMessage(nil), p.messages[conversationID]...),
		NextCursor: p.latestCur[conversationID],
	}, nil
}

func (p *fakePersistence) SendMessage(ctx context.Context, conversationID, content string) (model.RawMessage, error) {
	p.mu.Lock()
	gate := p.sendGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	if err := p.sendErr[content]; err != nil {
		return model.RawMessage{}, err
	}
	p.seq++
	raw := model.RawMessage{
		ID:             fmt.Sprintf("srv-%d", p.seq),
		ConversationID: conversationID,
		SenderID:       self.ID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	p.messages[conversationID] = append(p.messages[conversationID], raw)
	return raw, nil
}

func (p *fakePersistence) CreateConversation(ctx context.Context, targetParticipantID string) (model.ConversationRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	rec := model.ConversationRecord{
		ID:          fmt.Sprintf("C-new-%d", p.seq),
		Participant: model.Participant{ID: targetParticipantID, DisplayName: targetParticipantID},
	}
	p.convs = append(p.convs, rec)
	return rec, nil
}

func (p *fakePersistence) MarkRead(ctx context.Context, conversationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, conversationID)
	return nil
}

func (p *fakePersistence) DeleteConversation(ctx context.Context, conversationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, conversationID)
	return nil
}

// insert records a message at the service without pushing it.
func (p *fakePersistence) insert(raw model.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[raw.ConversationID] = append(p.messages[raw.ConversationID], raw)
}

type fakeHandle struct {
	ch   chan bus.Event
	once sync.Once
}

func (h *fakeHandle) Events() <-chan bus.Event { return h.ch }

func (h *fakeHandle) Close() error {
	h.once.Do(func() { close(h.ch) })
	return nil
}

// fakeTransport implements ChangeStream and SignalTransport.
type fakeTransport struct {
	mu         sync.Mutex
	handles    map[string]*fakeHandle
	opens      map[string]int
	failing    map[string]bool
	broadcasts []model.TypingAction
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handles: map[string]*fakeHandle{},
		opens:   map[string]int{},
		failing: map[string]bool{},
	}
}

func (f *fakeTransport) open(key string) (subscription.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens[key]++
	if f.failing[key] {
		return nil, errors.New("connection refused")
	}
	h := &fakeHandle{ch: make(chan bus.Event, 16)}
	f.handles[key] = h
	return h, nil
}

func (f *fakeTransport) SubscribeMessages(ctx context.Context, conversationID string) (subscription.Handle, error) {
	return f.open(subscription.MessagesKey(conversationID))
}

func (f *fakeTransport) SubscribeTyping(ctx context.Context, conversationID string) (subscription.Handle, error) {
	return f.open(subscription.TypingKey(conversationID))
}

func (f *fakeTransport) SubscribePresence(ctx context.Context, p model.Participant) (subscription.Handle, error) {
	return f.open(subscription.PresenceKey)
}

func (f *fakeTransport) BroadcastTyping(ctx context.Context, action model.TypingAction, sig model.TypingSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, action)
	return nil
}

func (f *fakeTransport) push(key string, evt bus.Event) {
	f.mu.Lock()
	h := f.handles[key]
	f.mu.Unlock()
	h.ch <- evt
}

func (f *fakeTransport) setFailing(key string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[key] = failing
}

func (f *fakeTransport) openCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[key]
}

func (f *fakeTransport) handle(key string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[key]
}
