package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/msglog"
	"github.com/matheus3301/chatsync/internal/normalize"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/poller"
	"github.com/matheus3301/chatsync/internal/readstate"
	"github.com/matheus3301/chatsync/internal/signal"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/subscription"
	"go.uber.org/zap"
)

var (
	// ErrUnknownConversation is returned for intents on a conversation that
	// is not in the directory.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrMissingTarget is returned by CreateConversation without a target.
	ErrMissingTarget = errors.New("target participant is required")
)

const (
	DefaultPageSize   = 50
	maxDirectoryPages = 1000
)

// Options tunes an Engine.
type Options struct {
	Self            model.Participant
	PageSize        int
	PollInterval    time.Duration
	PollConcurrency int
	TypingTimeout   time.Duration
	TypingInterval  time.Duration
	MatchWindow     time.Duration
}

// Engine is one session's sync engine. It owns the message logs, the
// conversation directory and every component feeding them, and exposes the
// user intents of the rendering layer.
type Engine struct {
	opts    Options
	persist Persistence
	stream  ChangeStream
	signals SignalTransport
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	log    *msglog.Store
	dir    *msglog.Directory
	norm   *normalize.Normalizer
	outbox *outbox.Coordinator
	subs   *subscription.Manager
	signal *signal.Handler
	poller *poller.Poller
	reads  *readstate.Tracker
	status *status.Machine

	mu         sync.Mutex
	runCtx     context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	dirLoaded  bool
	failedSubs map[string]error
}

// NewEngine wires the components of a session around b.
func NewEngine(p Persistence, cs ChangeStream, st SignalTransport, b *bus.Bus, opts Options, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	e := &Engine{
		opts:       opts,
		persist:    p,
		stream:     cs,
		signals:    st,
		bus:        b,
		metrics:    m,
		logger:     logger,
		log:        msglog.NewStore(msglog.WithMatchWindow(opts.MatchWindow)),
		dir:        msglog.NewDirectory(),
		norm:       normalize.New(logger.Named("normalize")),
		status:     status.NewMachine(b),
		runCtx:     context.Background(),
		failedSubs: make(map[string]error),
	}
	e.outbox = outbox.NewCoordinator(e.log, e.dir, p, b, opts.Self, m, logger.Named("outbox"))
	e.subs = subscription.NewManager(b, m, logger.Named("subscription"))
	e.signal = signal.NewHandler(opts.Self, st, b, signal.Options{
		TypingTimeout: opts.TypingTimeout,
		StartInterval: opts.TypingInterval,
	}, logger.Named("signal"))
	e.poller = poller.New(p, pollSink{e}, opts.PollInterval, opts.PollConcurrency, m, logger.Named("poller"))
	e.reads = readstate.NewTracker(e.log, e.dir, p, b, m, logger.Named("readstate"))
	return e
}

// Start loads the conversation directory, opens subscriptions and starts
// the event loop and the reconciliation poller. Load failures leave the
// engine DEGRADED; the poller retries them.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.runCtx = ctx
	e.done = make(chan struct{})
	e.mu.Unlock()

	_ = e.status.Transition(status.Loading, "initial fetch")

	streamCh, unsubStream := e.bus.Subscribe("stream.", 256)
	signalCh, unsubSignal := e.bus.Subscribe("signal.", 256)
	go func() {
		defer close(e.done)
		defer unsubStream()
		defer unsubSignal()
		for {
			select {
			case evt := <-streamCh:
				e.handleEvent(evt)
			case evt := <-signalCh:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := e.ReloadConversations(ctx); err != nil {
		e.logger.Error("initial conversation load failed", zap.Error(err))
	}
	e.refreshStatus()
	e.poller.Start(ctx)
}

// Stop cancels the loop and the poller, releases every subscription and
// waits for in-flight writes and read notifications.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		_ = e.status.Transition(status.Stopped, "stopped")
		return
	}

	cancel()
	e.poller.Stop()
	<-done
	e.subs.Close()
	e.signal.Close()
	e.outbox.Wait()
	e.reads.Wait()
	_ = e.status.Transition(status.Stopped, "stopped")
	e.logger.Info("engine stopped")
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageInserted:
		switch raw := evt.Payload.(type) {
		case model.RawMessage:
			e.ingest(raw, "")
		case *model.RawMessage:
			e.ingest(*raw, "")
		}
	case bus.KindMessageSendAck:
		if ack, ok := evt.Payload.(bus.SendAck); ok {
			if ack.Record.ConversationID == "" {
				ack.Record.ConversationID = ack.ConversationID
			}
			e.ingest(ack.Record, ack.TempID)
		}
	case bus.KindTypingStart, bus.KindTypingStop:
		sig, ok := evt.Payload.(model.TypingSignal)
		if !ok {
			return
		}
		action := model.TypingStart
		if evt.Kind == bus.KindTypingStop {
			action = model.TypingStop
		}
		if _, known := e.dir.Get(sig.ConversationID); !known {
			return
		}
		e.signal.HandleTyping(action, sig)
	case bus.KindPresenceSnapshot:
		if snap, ok := evt.Payload.(model.PresenceSnapshot); ok {
			e.signal.HandlePresence(snap)
		}
	}
}

// ingest applies one Confirmed record from any source. Every source funnels
// through here so arrival order does not matter. A write response carries the
// temporary id of the entry it confirms.
func (e *Engine) ingest(raw model.RawMessage, tempID string) {
	conv, ok := e.dir.Get(raw.ConversationID)
	if !ok {
		e.logger.Debug("discarding message for unknown conversation",
			zap.String("conversation_id", raw.ConversationID),
			zap.String("msg_id", raw.ID),
		)
		return
	}

	msg := e.norm.Normalize(raw, e.contextFor(conv))
	var outcome msglog.Outcome
	if tempID != "" {
		outcome = e.log.Confirm(conv.ID, tempID, msg)
		e.metrics.ObserveIngest("write", outcome.String())
	} else {
		outcome = e.log.Append(conv.ID, msg)
		e.metrics.ObserveIngest("push", outcome.String())
	}
	if outcome == msglog.Duplicate {
		return
	}

	e.dir.Touch(conv.ID, msg.Content, msg.CreatedAt)
	if outcome == msglog.Appended && msg.SenderID != e.opts.Self.ID && !msg.Read {
		e.dir.IncrementUnread(conv.ID)
	}
	e.publish(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conv.ID, MessageID: msg.ID})
	e.publish(bus.KindConversations, conv.ID)
}

func (e *Engine) contextFor(conv model.Conversation) normalize.Context {
	return normalize.Context{Self: e.opts.Self, Other: conv.Participant}
}

// ReloadConversations fetches the whole directory and re-enters subscription
// setup for every conversation. Conversations are only dropped locally by
// DeleteConversation.
func (e *Engine) ReloadConversations(ctx context.Context) error {
	var records []model.ConversationRecord
	for page := 1; page <= maxDirectoryPages; page++ {
		res, err := e.persist.ListConversations(ctx, page, e.opts.PageSize)
		if err != nil {
			return fmt.Errorf("list conversations page %d: %w", page, err)
		}
		records = append(records, res.Items...)
		if res.NextCursor == "" || len(res.Items) == 0 {
			break
		}
	}

	for _, rec := range records {
		e.dir.Upsert(rec.ToConversation())
	}
	e.mu.Lock()
	e.dirLoaded = true
	e.mu.Unlock()

	e.ensurePresence()
	for _, rec := range records {
		e.ensureConversation(rec.ID)
	}
	e.refreshStatus()
	e.publish(bus.KindConversations, "")
	e.logger.Info("conversations loaded", zap.Int("count", len(records)))
	return nil
}

func (e *Engine) lifetime() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

// ensureConversation opens the message stream and typing channel of a
// conversation unless already held. Failures degrade it to poll-only.
func (e *Engine) ensureConversation(conversationID string) {
	ctx := e.lifetime()
	if e.stream != nil {
		key := subscription.MessagesKey(conversationID)
		_, err := e.subs.Ensure(ctx, key, func(ctx context.Context) (subscription.Handle, error) {
			return e.stream.SubscribeMessages(ctx, conversationID)
		})
		e.recordSubscription(key, err)
	}
	if e.signals != nil {
		key := subscription.TypingKey(conversationID)
		_, err := e.subs.Ensure(ctx, key, func(ctx context.Context) (subscription.Handle, error) {
			return e.signals.SubscribeTyping(ctx, conversationID)
		})
		e.recordSubscription(key, err)
	}
}

func (e *Engine) ensurePresence() {
	if e.signals == nil {
		return
	}
	_, err := e.subs.Ensure(e.lifetime(), subscription.PresenceKey, func(ctx context.Context) (subscription.Handle, error) {
		return e.signals.SubscribePresence(ctx, e.opts.Self)
	})
	e.recordSubscription(subscription.PresenceKey, err)
}

func (e *Engine) recordSubscription(key string, err error) {
	if errors.Is(err, subscription.ErrClosed) {
		return
	}
	e.mu.Lock()
	if err != nil {
		e.failedSubs[key] = err
	} else {
		delete(e.failedSubs, key)
	}
	e.mu.Unlock()
}

func (e *Engine) forgetSubscriptions(conversationID string) {
	e.mu.Lock()
	delete(e.failedSubs, subscription.MessagesKey(conversationID))
	delete(e.failedSubs, subscription.TypingKey(conversationID))
	e.mu.Unlock()
}

// refreshStatus moves between LIVE and DEGRADED from the directory load and
// subscription outcomes.
func (e *Engine) refreshStatus() {
	e.mu.Lock()
	loaded := e.dirLoaded
	failed := len(e.failedSubs)
	e.mu.Unlock()

	switch cur := e.status.Current(); cur {
	case status.Booting, status.Stopped:
		return
	}
	switch {
	case !loaded:
		_ = e.status.Transition(status.Degraded, "conversation directory unavailable")
	case failed > 0:
		_ = e.status.Transition(status.Degraded, fmt.Sprintf("%d subscriptions unavailable", failed))
	default:
		_ = e.status.Transition(status.Live, "")
	}
}

func (e *Engine) conversation(conversationID string) (model.Conversation, error) {
	conv, ok := e.dir.Get(conversationID)
	if !ok {
		return model.Conversation{}, fmt.Errorf("%s: %w", conversationID, ErrUnknownConversation)
	}
	return conv, nil
}

// OpenConversation loads the latest page of a conversation and makes sure
// its subscriptions are held.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	conv, err := e.conversation(conversationID)
	if err != nil {
		return nil, err
	}
	page, err := e.persist.ListMessages(ctx, conv.ID, "")
	if err != nil {
		return nil, fmt.Errorf("load messages %s: %w", conv.ID, err)
	}
	e.merge(conv, page)
	if cursor, more := e.log.Cursor(conv.ID); cursor == "" && !more {
		e.log.SetCursor(conv.ID, page.NextCursor, page.NextCursor != "")
	}

	e.ensureConversation(conv.ID)
	e.refreshStatus()
	return e.log.Messages(conv.ID), nil
}

// LoadOlder fetches the page before the oldest loaded message. It returns
// how many messages were added; zero once history is exhausted.
func (e *Engine) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	conv, err := e.conversation(conversationID)
	if err != nil {
		return 0, err
	}
	cursor, more := e.log.Cursor(conv.ID)
	if !more {
		return 0, nil
	}
	page, err := e.persist.ListMessages(ctx, conv.ID, cursor)
	if err != nil {
		return 0, fmt.Errorf("load older messages %s: %w", conv.ID, err)
	}
	if _, ok := e.dir.Get(conv.ID); !ok {
		return 0, nil
	}
	msgs := e.norm.All(page.Items, e.contextFor(conv))
	added := e.log.MergeHistory(conv.ID, msgs, page.NextCursor, page.NextCursor != "")
	if added > 0 {
		e.publish(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conv.ID})
	}
	return added, nil
}

// merge folds a latest-page fetch into the log. Only the first load of an
// empty log replaces it; later pages merge per message.
func (e *Engine) merge(conv model.Conversation, page model.MessagePage) {
	if _, ok := e.dir.Get(conv.ID); !ok {
		return
	}
	msgs := e.norm.All(page.Items, e.contextFor(conv))
	changed, first := e.log.Replace(conv.ID, msgs)
	if first {
		e.log.SetCursor(conv.ID, page.NextCursor, page.NextCursor != "")
	}
	if changed == 0 {
		return
	}
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		e.dir.Touch(conv.ID, last.Content, last.CreatedAt)
	}
	e.publish(bus.KindMessageUpserted, bus.MessageRef{ConversationID: conv.ID})
	e.publish(bus.KindConversations, conv.ID)
}

// Send inserts a Pending message and writes it in the background.
func (e *Engine) Send(ctx context.Context, conversationID, content string) (model.Message, error) {
	if _, err := e.conversation(conversationID); err != nil {
		return model.Message{}, err
	}
	msg, err := e.outbox.Send(ctx, conversationID, content)
	if err != nil {
		return model.Message{}, err
	}
	e.publish(bus.KindConversations, conversationID)
	return msg, nil
}

// Retry re-sends a Failed message.
func (e *Engine) Retry(ctx context.Context, conversationID, messageID string) (model.Message, error) {
	if _, err := e.conversation(conversationID); err != nil {
		return model.Message{}, err
	}
	return e.outbox.Retry(ctx, conversationID, messageID)
}

// MarkRead marks a conversation read locally and notifies the service.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	if _, err := e.conversation(conversationID); err != nil {
		return err
	}
	e.reads.MarkRead(ctx, conversationID)
	return nil
}

// StartTyping broadcasts that the local user is typing.
func (e *Engine) StartTyping(ctx context.Context, conversationID string) error {
	if _, err := e.conversation(conversationID); err != nil {
		return err
	}
	return e.signal.StartTyping(ctx, conversationID)
}

// StopTyping broadcasts that the local user stopped typing.
func (e *Engine) StopTyping(ctx context.Context, conversationID string) error {
	if _, err := e.conversation(conversationID); err != nil {
		return err
	}
	return e.signal.StopTyping(ctx, conversationID)
}

// CreateConversation starts a conversation with another participant.
func (e *Engine) CreateConversation(ctx context.Context, targetParticipantID string) (model.Conversation, error) {
	if targetParticipantID == "" {
		return model.Conversation{}, ErrMissingTarget
	}
	rec, err := e.persist.CreateConversation(ctx, targetParticipantID)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("create conversation with %s: %w", targetParticipantID, err)
	}
	conv := rec.ToConversation()
	e.dir.Upsert(conv)
	e.ensureConversation(conv.ID)
	e.refreshStatus()
	e.publish(bus.KindConversations, conv.ID)
	got, _ := e.dir.Get(conv.ID)
	return got, nil
}

// DeleteConversation deletes a conversation at the service and, once that
// succeeds, releases its subscriptions and drops its local state. Results
// arriving later for it are discarded.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := e.conversation(conversationID); err != nil {
		return err
	}
	if err := e.persist.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}

	e.dir.Remove(conversationID)
	e.subs.Release(subscription.MessagesKey(conversationID))
	e.subs.Release(subscription.TypingKey(conversationID))
	e.forgetSubscriptions(conversationID)
	e.signal.Forget(conversationID)
	e.log.Drop(conversationID)
	e.refreshStatus()
	e.publish(bus.KindConversations, conversationID)
	e.logger.Info("conversation deleted", zap.String("conversation_id", conversationID))
	return nil
}

// Messages returns a copy of a conversation's log.
func (e *Engine) Messages(conversationID string) ([]model.Message, error) {
	if _, err := e.conversation(conversationID); err != nil {
		return nil, err
	}
	return e.log.Messages(conversationID), nil
}

// Status returns the engine state.
func (e *Engine) Status() status.State {
	return e.status.Current()
}

// Self returns the local participant.
func (e *Engine) Self() model.Participant {
	return e.opts.Self
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.NewEvent(kind, payload))
}

// pollSink adapts the engine to the reconciliation poller.
type pollSink struct{ e *Engine }

func (s pollSink) Targets() []string {
	e := s.e
	e.mu.Lock()
	loaded := e.dirLoaded
	e.mu.Unlock()
	if !loaded {
		if err := e.ReloadConversations(e.lifetime()); err != nil {
			e.logger.Warn("conversation reload failed", zap.Error(err))
		}
	}

	var out []string
	for _, id := range e.log.LoadedConversations() {
		if _, ok := e.dir.Get(id); ok {
			out = append(out, id)
		}
	}
	return out
}

func (s pollSink) Merge(conversationID string, page model.MessagePage) {
	conv, ok := s.e.dir.Get(conversationID)
	if !ok {
		return
	}
	s.e.merge(conv, page)
}

func (s pollSink) Repair(ctx context.Context, conversationID string) {
	s.e.ensureConversation(conversationID)
	s.e.refreshStatus()
}
