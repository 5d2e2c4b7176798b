// Package subscription owns every push and ephemeral-signal subscription of
// a session and guarantees at most one live handle per key.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Ensure after Close.
var ErrClosed = errors.New("subscription manager closed")

// PresenceKey is the registry key of the global presence subscription.
const PresenceKey = "presence"

// MessagesKey is the registry key of a conversation's message stream.
func MessagesKey(conversationID string) string { return "messages:" + conversationID }

// TypingKey is the registry key of a conversation's typing channel.
func TypingKey(conversationID string) string { return "typing:" + conversationID }

// Handle is an open subscription. Events must be closed once the handle is
// closed or the underlying transport ends.
type Handle interface {
	Events() <-chan bus.Event
	Close() error
}

// OpenFunc opens the subscription for one key.
type OpenFunc func(ctx context.Context) (Handle, error)

type entry struct {
	handle Handle
}

// Manager is the registry of held subscription handles. Registry membership,
// not a one-shot flag, decides whether a key needs opening, so setup can be
// re-entered any number of times.
type Manager struct {
	mu      sync.Mutex
	handles map[string]*entry
	closed  bool

	group   singleflight.Group
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewManager creates a manager that forwards every received event to b.
func NewManager(b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handles: make(map[string]*entry),
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Ensure opens the subscription for key unless a handle is already held.
// Concurrent calls for the same key share a single open. It reports whether
// a new handle was registered.
func (m *Manager) Ensure(ctx context.Context, key string, open OpenFunc) (bool, error) {
	if m.Has(key) {
		return false, nil
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.Lock()
		_, held := m.handles[key]
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return false, ErrClosed
		}
		if held {
			return false, nil
		}

		h, err := open(ctx)
		if err != nil {
			m.metrics.ObserveSubscriptionFailure(kindOf(key))
			m.logger.Warn("failed to open subscription", zap.String("key", key), zap.Error(err))
			return false, fmt.Errorf("open subscription %s: %w", key, err)
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = h.Close()
			return false, ErrClosed
		}
		e := &entry{handle: h}
		m.handles[key] = e
		n := len(m.handles)
		m.wg.Add(1)
		m.mu.Unlock()

		m.metrics.SetSubscriptions(n)
		m.logger.Debug("subscription opened", zap.String("key", key))
		go m.pump(key, e)
		return true, nil
	})
	created, _ := v.(bool)
	return created, err
}

// pump forwards events until the handle's channel closes, then drops the
// handle from the registry so the next Ensure re-opens it.
func (m *Manager) pump(key string, e *entry) {
	defer m.wg.Done()
	for evt := range e.handle.Events() {
		if m.bus != nil {
			m.bus.Publish(evt)
		}
	}

	m.mu.Lock()
	removed := false
	if cur, ok := m.handles[key]; ok && cur == e {
		delete(m.handles, key)
		removed = true
	}
	n := len(m.handles)
	m.mu.Unlock()

	if removed {
		m.metrics.SetSubscriptions(n)
		m.logger.Info("subscription ended by transport", zap.String("key", key))
		_ = e.handle.Close()
	}
}

// Release closes and forgets the handle for key.
func (m *Manager) Release(key string) bool {
	m.mu.Lock()
	e, ok := m.handles[key]
	delete(m.handles, key)
	n := len(m.handles)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.metrics.SetSubscriptions(n)
	if err := e.handle.Close(); err != nil {
		m.logger.Warn("error closing subscription", zap.String("key", key), zap.Error(err))
	}
	return true
}

// Close releases every handle, clears the registry and waits for the
// forwarding goroutines to exit. Later Ensure calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	held := m.handles
	m.handles = make(map[string]*entry)
	m.mu.Unlock()

	for key, e := range held {
		if err := e.handle.Close(); err != nil {
			m.logger.Warn("error closing subscription", zap.String("key", key), zap.Error(err))
		}
	}
	m.wg.Wait()
	m.metrics.SetSubscriptions(0)
}

// Has reports whether a handle is held for key.
func (m *Manager) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[key]
	return ok
}

// Len returns the number of held handles.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Keys lists held keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.handles))
	for k := range m.handles {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func kindOf(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}
