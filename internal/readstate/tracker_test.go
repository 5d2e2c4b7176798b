package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/msglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *fakeNotifier) MarkRead(ctx context.Context, conversationID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, conversationID)
	return n.err
}

func seed(t *testing.T) (*msglog.Store, *msglog.Directory) {
	t.Helper()
	log := msglog.NewStore()
	dir := msglog.NewDirectory()
	dir.Upsert(model.Conversation{ID: "C123", UnreadCount: 2})
	now := time.Now()
	for _, id := range []string{"m1", "m2"} {
		log.Append("C123", model.Message{ID: id, ConversationID: "C123", SenderID: "u-ana", Content: id, CreatedAt: now, State: model.Confirmed})
	}
	return log, dir
}

func TestMarkReadUpdatesLocalState(t *testing.T) {
	log, dir := seed(t)
	n := &fakeNotifier{}
	tr := NewTracker(log, dir, n, nil, nil, nil)

	assert.Equal(t, 2, tr.MarkRead(context.Background(), "C123"))
	tr.Wait()

	for _, m := range log.Messages("C123") {
		assert.True(t, m.Read, m.ID)
	}
	c, ok := dir.Get("C123")
	require.True(t, ok)
	assert.Zero(t, c.UnreadCount)
	assert.Equal(t, []string{"C123"}, n.calls)
}

func TestMarkReadFailureIsNotRolledBack(t *testing.T) {
	log, dir := seed(t)
	n := &fakeNotifier{err: errors.New("timeout")}
	m := metrics.New(prometheus.NewRegistry())
	tr := NewTracker(log, dir, n, nil, m, nil)

	tr.MarkRead(context.Background(), "C123")
	tr.Wait()

	for _, msg := range log.Messages("C123") {
		assert.True(t, msg.Read)
	}
	c, _ := dir.Get("C123")
	assert.Zero(t, c.UnreadCount)
	assert.Len(t, n.calls, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadReceiptFailures))
}

func TestMarkReadDetachedFromCaller(t *testing.T) {
	log, dir := seed(t)
	n := &fakeNotifier{}
	tr := NewTracker(log, dir, n, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.MarkRead(ctx, "C123")
	tr.Wait()
	assert.Equal(t, []string{"C123"}, n.calls)
}
