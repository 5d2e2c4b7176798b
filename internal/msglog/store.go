// Package msglog holds the per-conversation message logs and the
// conversation directory the rendering layer reads snapshots from.
package msglog

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// ErrNotFound is returned when a message id is not in the log.
var ErrNotFound = errors.New("message not found")

// Outcome describes what Append did with a message.
type Outcome int

const (
	// Duplicate means the id was already present; nothing changed.
	Duplicate Outcome = iota
	// Appended means the message was inserted as a new entry.
	Appended
	// Reconciled means a Pending entry was promoted in place.
	Reconciled
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Reconciled:
		return "reconciled"
	default:
		return "duplicate"
	}
}

type conversationLog struct {
	entries []model.Message
	ids     map[string]struct{}
	// claims maps the temporary id of an entry promoted by content match to
	// the record that promoted it, until the write itself resolves.
	claims  map[string]claim
	cursor  string
	hasMore bool
	loaded  bool
}

type claim struct {
	serverID string
	local    model.Message
}

func newConversationLog() *conversationLog {
	return &conversationLog{ids: make(map[string]struct{}), claims: make(map[string]claim)}
}

func (l *conversationLog) indexOf(id string) int {
	if _, ok := l.ids[id]; !ok {
		return -1
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// Store is the set of message logs, one per conversation. Entries are kept in
// createdAt order; an entry promoted from Pending keeps its position.
type Store struct {
	mu     sync.RWMutex
	logs   map[string]*conversationLog
	window time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMatchWindow sets the optimistic reconciliation window.
func WithMatchWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock overrides the arrival clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		logs:   make(map[string]*conversationLog),
		window: DefaultMatchWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) log(conversationID string) *conversationLog {
	l, ok := s.logs[conversationID]
	if !ok {
		l = newConversationLog()
		s.logs[conversationID] = l
	}
	return l
}

// Append adds msg to its conversation log. An existing id is a no-op; a
// Confirmed message matching an outstanding Pending entry promotes the
// oldest such entry in place.
func (s *Store) Append(conversationID string, msg model.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(s.log(conversationID), msg)
}

func (s *Store) appendLocked(l *conversationLog, msg model.Message) Outcome {
	if _, ok := l.ids[msg.ID]; ok {
		return Duplicate
	}
	if msg.State == model.Confirmed {
		if i := s.match(l, msg); i >= 0 {
			l.claims[l.entries[i].ID] = claim{serverID: msg.ID, local: l.entries[i].Clone()}
			l.promote(i, msg)
			return Reconciled
		}
	}
	l.insert(msg)
	return Appended
}

// match returns the index of the oldest Pending entry msg reconciles, or -1.
func (s *Store) match(l *conversationLog, msg model.Message) int {
	arrived := s.now()
	best := -1
	for i := range l.entries {
		if !Matches(l.entries[i], msg, arrived, s.window) {
			continue
		}
		if best < 0 || l.entries[i].CreatedAt.Before(l.entries[best].CreatedAt) {
			best = i
		}
	}
	return best
}

// Confirm applies the write response for the entry with the given temporary
// id. The entry is promoted to msg whatever its content matching says. When
// another record already claimed the entry, msg is added beside it.
func (s *Store) Confirm(conversationID, tempID string, msg model.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(conversationID)
	if c, ok := l.claims[tempID]; ok {
		delete(l.claims, tempID)
		if _, ok := l.ids[msg.ID]; ok || c.serverID == msg.ID {
			return Duplicate
		}
		l.insert(msg)
		return Appended
	}

	i := l.indexOf(tempID)
	if i < 0 || l.entries[i].State != model.Pending {
		if _, ok := l.ids[msg.ID]; ok {
			return Duplicate
		}
		l.insert(msg)
		return Appended
	}
	if _, ok := l.ids[msg.ID]; ok {
		// The server copy landed separately; the temporary entry is redundant.
		delete(l.ids, tempID)
		l.entries = slices.Delete(l.entries, i, i+1)
		return Reconciled
	}
	l.promote(i, msg)
	return Reconciled
}

// promote turns the Pending entry at i into msg, keeping its position.
func (l *conversationLog) promote(i int, msg model.Message) {
	entry := &l.entries[i]
	delete(l.ids, entry.ID)
	entry.ID = msg.ID
	entry.State = model.Confirmed
	entry.CreatedAt = msg.CreatedAt
	entry.SenderName = msg.SenderName
	entry.Tags = msg.Clone().Tags
	l.ids[msg.ID] = struct{}{}
}

// insert places msg after every entry not newer than it. Arrivals are
// usually chronological, so the scan from the tail is short.
func (l *conversationLog) insert(msg model.Message) {
	i := len(l.entries)
	for i > 0 && l.entries[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	l.entries = slices.Insert(l.entries, i, msg.Clone())
	l.ids[msg.ID] = struct{}{}
}

// MergeHistory prepends older messages, skipping ids already present, and
// records the cursor for the next older page. It returns how many were added.
func (s *Store) MergeHistory(conversationID string, older []model.Message, cursor string, hasMore bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(conversationID)
	fresh := make([]model.Message, 0, len(older))
	seen := make(map[string]struct{}, len(older))
	for _, m := range older {
		if _, ok := l.ids[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m.Clone())
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreatedAt.Before(fresh[j].CreatedAt) })
	for _, m := range fresh {
		l.ids[m.ID] = struct{}{}
	}
	l.entries = append(fresh, l.entries...)
	l.cursor = cursor
	l.hasMore = hasMore
	l.loaded = true
	return len(fresh)
}

// Replace loads a full page for a conversation. Only the first load of an
// empty log is taken verbatim; later loads merge message by message so
// Pending and Failed entries are never discarded. It returns the number of
// entries added or reconciled and whether this was the first load.
func (s *Store) Replace(conversationID string, full []model.Message) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(conversationID)
	if !l.loaded && len(l.entries) == 0 {
		for _, m := range full {
			if _, ok := l.ids[m.ID]; ok {
				continue
			}
			l.insert(m)
		}
		l.loaded = true
		return len(l.entries), true
	}

	changed := 0
	for _, m := range full {
		if s.appendLocked(l, m) != Duplicate {
			changed++
		}
	}
	l.loaded = true
	return changed, false
}

// SetCursor stores the pagination cursor for older history.
func (s *Store) SetCursor(conversationID, cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.log(conversationID)
	l.cursor = cursor
	l.hasMore = hasMore
}

// Cursor returns the stored cursor and whether older history remains.
func (s *Store) Cursor(conversationID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[conversationID]
	if !ok {
		return "", false
	}
	return l.cursor, l.hasMore
}

// MarkFailed demotes the Pending entry with the given id. If another record
// claimed that entry in the meantime, the entry is restored beside it as
// Failed. It reports false when there is nothing left to demote.
func (s *Store) MarkFailed(conversationID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[conversationID]
	if !ok {
		return false
	}
	if i := l.indexOf(id); i >= 0 {
		return l.entries[i].Transition(model.Failed) == nil
	}
	c, ok := l.claims[id]
	if !ok {
		return false
	}
	delete(l.claims, id)
	restored := c.local
	restored.State = model.Failed
	l.insert(restored)
	return true
}

// Resend moves a Failed entry back to Pending with a fresh timestamp so it
// can be matched again, repositions it accordingly and returns a copy.
func (s *Store) Resend(conversationID, id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[conversationID]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	i := l.indexOf(id)
	if i < 0 {
		return model.Message{}, ErrNotFound
	}
	entry := l.entries[i]
	if err := entry.Transition(model.Pending); err != nil {
		return model.Message{}, err
	}
	entry.CreatedAt = s.now()
	l.entries = slices.Delete(l.entries, i, i+1)
	l.insert(entry)
	return entry.Clone(), nil
}

// MarkAllRead flags every loaded message of a conversation as read and
// returns how many changed.
func (s *Store) MarkAllRead(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[conversationID]
	if !ok {
		return 0
	}
	n := 0
	for i := range l.entries {
		if !l.entries[i].Read {
			l.entries[i].Read = true
			n++
		}
	}
	return n
}

// Messages returns a copy of a conversation's log.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[conversationID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(l.entries))
	for i, m := range l.entries {
		out[i] = m.Clone()
	}
	return out
}

// Get returns one message by id.
func (s *Store) Get(conversationID, id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[conversationID]
	if !ok {
		return model.Message{}, false
	}
	i := l.indexOf(id)
	if i < 0 {
		return model.Message{}, false
	}
	return l.entries[i].Clone(), true
}

// Loaded reports whether a conversation has any loaded messages.
func (s *Store) Loaded(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[conversationID]
	return ok && (l.loaded || len(l.entries) > 0)
}

// LoadedConversations lists conversations holding at least one message.
func (s *Store) LoadedConversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.logs))
	for id, l := range s.logs {
		if len(l.entries) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Drop forgets a conversation's log entirely.
func (s *Store) Drop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, conversationID)
}
