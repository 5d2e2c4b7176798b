package msglog

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/chatsync/internal/model"
)

const summaryMaxLen = 100

// Directory holds the conversations known to the session.
type Directory struct {
	mu    sync.RWMutex
	convs map[string]model.Conversation
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{convs: make(map[string]model.Conversation)}
}

// Upsert stores a conversation from the Persistence Service and reports
// whether it was new. A locally newer last-message summary is kept, since
// optimistic sends update it before the server does.
func (d *Directory) Upsert(c model.Conversation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.convs[c.ID]
	if ok && cur.LastMessageAt.After(c.LastMessageAt) {
		c.LastMessageAt = cur.LastMessageAt
		c.LastMessageSummary = cur.LastMessageSummary
	}
	d.convs[c.ID] = c
	return !ok
}

// Get returns a conversation by id.
func (d *Directory) Get(id string) (model.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.convs[id]
	return c, ok
}

// Remove drops a conversation and reports whether it existed.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.convs[id]
	delete(d.convs, id)
	return ok
}

// Touch records a new last message unless a newer one is already recorded.
func (d *Directory) Touch(id, content string, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.convs[id]
	if !ok || at.Before(c.LastMessageAt) {
		return false
	}
	c.LastMessageAt = at
	c.LastMessageSummary = Summarize(content)
	d.convs[id] = c
	return true
}

// IncrementUnread bumps the unread counter of a conversation.
func (d *Directory) IncrementUnread(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.convs[id]; ok {
		c.UnreadCount++
		d.convs[id] = c
	}
}

// ClearUnread resets the unread counter of a conversation.
func (d *Directory) ClearUnread(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.convs[id]; ok {
		c.UnreadCount = 0
		d.convs[id] = c
	}
}

// IDs returns every known conversation id, sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.convs))
	for id := range d.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns conversations pinned first, then by most recent message.
func (d *Directory) List() []model.Conversation {
	d.mu.RLock()
	out := make([]model.Conversation, 0, len(d.convs))
	for _, c := range d.convs {
		out = append(out, c)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Summarize truncates content to a rune-safe preview.
func Summarize(s string) string {
	if len(s) <= summaryMaxLen {
		return s
	}
	cut := summaryMaxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
