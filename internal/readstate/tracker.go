// Package readstate marks conversations as read locally and notifies the
// Persistence Service without waiting for it.
package readstate

import (
	"context"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/msglog"
	"go.uber.org/zap"
)

// Notifier records that the local participant read a conversation.
type Notifier interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Tracker applies read state optimistically. The local state is never rolled
// back and a failed notification is not retried.
type Tracker struct {
	log      *msglog.Store
	dir      *msglog.Directory
	notifier Notifier
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewTracker creates a read state tracker.
func NewTracker(log *msglog.Store, dir *msglog.Directory, n Notifier, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{log: log, dir: dir, notifier: n, bus: b, metrics: m, logger: logger}
}

// MarkRead flags every loaded message of the conversation as read, zeroes
// its unread counter and notifies the service in the background.
func (t *Tracker) MarkRead(ctx context.Context, conversationID string) int {
	n := t.log.MarkAllRead(conversationID)
	t.dir.ClearUnread(conversationID)
	if t.bus != nil {
		t.bus.Publish(bus.NewEvent(bus.KindConversations, conversationID))
	}

	if t.notifier == nil {
		return n
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.notifier.MarkRead(context.WithoutCancel(ctx), conversationID); err != nil {
			t.metrics.ObserveReadReceiptFailure()
			t.logger.Warn("failed to notify read state",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}()
	return n
}

// Wait blocks until in-flight notifications finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
