// Package signal handles the best-effort ephemeral channel: typing
// indicators per conversation and the global presence set.
package signal

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// DefaultTypingTimeout is how long a typing indicator survives without a
// fresh start signal.
const DefaultTypingTimeout = 4 * time.Second

type typer struct {
	name  string
	gen   uint64
	timer *time.Timer
}

// Typing is the per-conversation set of participants currently typing.
// Every entry expires on its own after the timeout unless re-armed.
type Typing struct {
	mu       sync.Mutex
	timeout  time.Duration
	convs    map[string]map[string]*typer
	gen      uint64
	onChange func(conversationID string)
}

// NewTyping creates a typing set. onChange, if non-nil, is called outside
// the lock whenever a conversation's set changes, including on expiry.
func NewTyping(timeout time.Duration, onChange func(conversationID string)) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Typing{
		timeout:  timeout,
		convs:    make(map[string]map[string]*typer),
		onChange: onChange,
	}
}

// Start adds the sender or re-arms its expiry.
func (t *Typing) Start(sig model.TypingSignal) {
	t.mu.Lock()
	set, ok := t.convs[sig.ConversationID]
	if !ok {
		set = make(map[string]*typer)
		t.convs[sig.ConversationID] = set
	}
	cur, existed := set[sig.SenderID]
	if existed {
		cur.timer.Stop()
	}
	t.gen++
	gen := t.gen
	name := sig.SenderName
	if name == "" {
		name = sig.SenderID
	}
	set[sig.SenderID] = &typer{
		name: name,
		gen:  gen,
		timer: time.AfterFunc(t.timeout, func() {
			t.expire(sig.ConversationID, sig.SenderID, gen)
		}),
	}
	changed := !existed || cur.name != name
	t.mu.Unlock()

	if changed {
		t.notify(sig.ConversationID)
	}
}

// Stop removes the sender immediately.
func (t *Typing) Stop(sig model.TypingSignal) {
	t.mu.Lock()
	removed := t.removeLocked(sig.ConversationID, sig.SenderID, 0)
	t.mu.Unlock()
	if removed {
		t.notify(sig.ConversationID)
	}
}

func (t *Typing) expire(conversationID, senderID string, gen uint64) {
	t.mu.Lock()
	removed := t.removeLocked(conversationID, senderID, gen)
	t.mu.Unlock()
	if removed {
		t.notify(conversationID)
	}
}

// removeLocked drops the entry; gen 0 matches any generation, otherwise a
// re-armed entry is left alone.
func (t *Typing) removeLocked(conversationID, senderID string, gen uint64) bool {
	set := t.convs[conversationID]
	cur, ok := set[senderID]
	if !ok || (gen != 0 && cur.gen != gen) {
		return false
	}
	cur.timer.Stop()
	delete(set, senderID)
	if len(set) == 0 {
		delete(t.convs, conversationID)
	}
	return true
}

// Names returns the display names typing in a conversation, sorted.
func (t *Typing) Names(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.convs[conversationID]
	names := make([]string, 0, len(set))
	for _, p := range set {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Clear forgets a conversation's typers, e.g. when it is deleted.
func (t *Typing) Clear(conversationID string) {
	t.mu.Lock()
	set, ok := t.convs[conversationID]
	for _, p := range set {
		p.timer.Stop()
	}
	delete(t.convs, conversationID)
	t.mu.Unlock()
	if ok {
		t.notify(conversationID)
	}
}

// Close stops every pending expiry timer.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, set := range t.convs {
		for _, p := range set {
			p.timer.Stop()
		}
	}
	t.convs = make(map[string]map[string]*typer)
}

func (t *Typing) notify(conversationID string) {
	if t.onChange != nil {
		t.onChange(conversationID)
	}
}
