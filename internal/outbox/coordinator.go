// Package outbox applies optimistic sends to the local log and issues the
// corresponding writes to the Persistence Service.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/msglog"
	"go.uber.org/zap"
)

// TempIDPrefix marks ids generated locally for optimistic entries.
const TempIDPrefix = "local-"

var (
	// ErrEmptyContent is returned when a send has no content.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrNotFailed is returned when retrying an entry that has not failed.
	ErrNotFailed = errors.New("message is not in failed state")
)

// Writer is the write half of the Persistence Service.
type Writer interface {
	SendMessage(ctx context.Context, conversationID, content string) (model.RawMessage, error)
}

// Coordinator creates Pending entries and drives them to Confirmed or Failed.
type Coordinator struct {
	log     *msglog.Store
	dir     *msglog.Directory
	writer  Writer
	bus     *bus.Bus
	self    model.Participant
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewCoordinator creates a write coordinator for the given identity.
func NewCoordinator(log *msglog.Store, dir *msglog.Directory, w Writer, b *bus.Bus, self model.Participant, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		log:     log,
		dir:     dir,
		writer:  w,
		bus:     b,
		self:    self,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Send inserts a Pending message, updates the conversation summary and
// issues the write in the background. The returned message carries the
// temporary id. The write is not tied to ctx's cancellation.
func (c *Coordinator) Send(ctx context.Context, conversationID, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyContent
	}

	msg := model.Message{
		ID:             TempIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.self.ID,
		SenderName:     c.self.DisplayName,
		Content:        content,
		CreatedAt:      c.now(),
		State:          model.Pending,
		Read:           true,
	}
	c.log.Append(conversationID, msg)
	c.dir.Touch(conversationID, content, msg.CreatedAt)
	c.publish(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conversationID, MessageID: msg.ID})

	c.write(context.WithoutCancel(ctx), msg)
	return msg, nil
}

// Retry re-issues the write for a Failed entry.
func (c *Coordinator) Retry(ctx context.Context, conversationID, tempID string) (model.Message, error) {
	cur, ok := c.log.Get(conversationID, tempID)
	if !ok {
		return model.Message{}, fmt.Errorf("retry %s: %w", tempID, msglog.ErrNotFound)
	}
	if cur.State != model.Failed {
		return model.Message{}, fmt.Errorf("retry %s: %w", tempID, ErrNotFailed)
	}
	msg, err := c.log.Resend(conversationID, tempID)
	if err != nil {
		return model.Message{}, fmt.Errorf("retry %s: %w", tempID, err)
	}
	c.dir.Touch(conversationID, msg.Content, msg.CreatedAt)
	c.publish(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conversationID, MessageID: msg.ID})

	c.write(context.WithoutCancel(ctx), msg)
	return msg, nil
}

func (c *Coordinator) write(ctx context.Context, msg model.Message) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.metrics.ObserveSend()

		rec, err := c.writer.SendMessage(ctx, msg.ConversationID, msg.Content)
		if err != nil {
			c.fail(msg, err)
			return
		}
		if rec.ConversationID == "" {
			rec.ConversationID = msg.ConversationID
		}

		c.logger.Info("message sent",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("temp_id", msg.ID),
			zap.String("server_msg_id", rec.ID),
		)
		// The response enters the same ingestion path as push delivery. The
		// temporary id lets the engine promote exactly this entry.
		c.publish(bus.KindMessageSendAck, bus.SendAck{
			ConversationID: msg.ConversationID,
			TempID:         msg.ID,
			Record:         rec,
		})
	}()
}

func (c *Coordinator) fail(msg model.Message, err error) {
	c.metrics.ObserveSendFailure()
	c.logger.Error("failed to send message",
		zap.Error(err),
		zap.String("conversation_id", msg.ConversationID),
		zap.String("temp_id", msg.ID),
	)
	if !c.log.MarkFailed(msg.ConversationID, msg.ID) {
		// Dropped together with its conversation.
		c.logger.Debug("failed write has no pending entry", zap.String("temp_id", msg.ID))
		return
	}
	c.publish(bus.KindMessageSendFailed, bus.SendFailure{
		ConversationID: msg.ConversationID,
		TempID:         msg.ID,
		Err:            err.Error(),
	})
	c.publish(bus.KindMessageUpserted, bus.MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID})
}

func (c *Coordinator) publish(kind string, payload any) {
	if c.bus != nil {
		c.bus.Publish(bus.NewEvent(kind, payload))
	}
}

// Wait blocks until every in-flight write has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
