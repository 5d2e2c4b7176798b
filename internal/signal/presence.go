package signal

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Presence is the set of participants reported online by the last
// heartbeat snapshot. Each snapshot replaces the set wholesale.
type Presence struct {
	mu     sync.RWMutex
	online map[string]time.Time
}

// NewPresence creates an empty presence set.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]time.Time)}
}

// Apply recomputes the set from snap and reports whether membership changed.
func (p *Presence) Apply(snap model.PresenceSnapshot) bool {
	next := make(map[string]time.Time, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.ParticipantID == "" {
			continue
		}
		if prev, ok := next[e.ParticipantID]; ok && prev.After(e.LastSeenAt) {
			continue
		}
		next[e.ParticipantID] = e.LastSeenAt
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	changed := len(next) != len(p.online)
	if !changed {
		for id := range next {
			if _, ok := p.online[id]; !ok {
				changed = true
				break
			}
		}
	}
	p.online = next
	return changed
}

// IsOnline reports whether id appeared in the last snapshot.
func (p *Presence) IsOnline(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[id]
	return ok
}

// Online lists online participant ids, sorted.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.online))
}

// LastSeen returns the heartbeat time reported for id.
func (p *Presence) LastSeen(id string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.online[id]
	return at, ok
}
