package backend

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/wire"
)

const topicPrefix = "backend."

// Topic names end with a dot so one conversation's topic is never a
// prefix of another's.
func streamTopic(conversationID string) string {
	return topicPrefix + "stream." + conversationID + "."
}

func typingTopic(conversationID string) string {
	return topicPrefix + "typing." + conversationID + "."
}

const presenceTopic = topicPrefix + "presence."

// Hub fans frames out to websocket subscribers and tracks which
// participants hold a presence connection.
type Hub struct {
	bus *bus.Bus
	now func() time.Time

	mu     sync.Mutex
	online map[string]*presence
}

type presence struct {
	conns    int
	lastSeen time.Time
}

// NewHub creates a hub publishing on b.
func NewHub(b *bus.Bus) *Hub {
	return &Hub{bus: b, now: time.Now, online: make(map[string]*presence)}
}

// Publish sends a frame to every subscriber of topic.
func (h *Hub) Publish(topic string, f wire.Frame) {
	h.bus.Publish(bus.NewEvent(topic, f))
}

// Subscribe returns the frames of one topic.
func (h *Hub) Subscribe(topic string) (<-chan bus.Event, func()) {
	return h.bus.Subscribe(topic, 64)
}

// Connect records a presence connection for participantID.
func (h *Hub) Connect(participantID string) {
	h.mu.Lock()
	p, ok := h.online[participantID]
	if !ok {
		p = &presence{}
		h.online[participantID] = p
	}
	p.conns++
	p.lastSeen = h.now()
	h.mu.Unlock()
	h.Heartbeat()
}

// Disconnect drops one presence connection of participantID.
func (h *Hub) Disconnect(participantID string) {
	h.mu.Lock()
	if p, ok := h.online[participantID]; ok {
		p.conns--
		if p.conns <= 0 {
			delete(h.online, participantID)
		}
	}
	h.mu.Unlock()
	h.Heartbeat()
}

// Snapshot lists connected participants.
func (h *Hub) Snapshot() model.PresenceSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := model.PresenceSnapshot{Entries: make([]model.PresenceEntry, 0, len(h.online))}
	for id, p := range h.online {
		snap.Entries = append(snap.Entries, model.PresenceEntry{ParticipantID: id, LastSeenAt: p.lastSeen})
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].ParticipantID < snap.Entries[j].ParticipantID })
	return snap
}

// Heartbeat refreshes every connected participant and broadcasts the
// presence snapshot.
func (h *Hub) Heartbeat() {
	h.mu.Lock()
	now := h.now()
	for _, p := range h.online {
		p.lastSeen = now
	}
	h.mu.Unlock()

	snap := h.Snapshot()
	h.Publish(presenceTopic, wire.Frame{Type: wire.FramePresenceSnapshot, Presence: &snap})
}
