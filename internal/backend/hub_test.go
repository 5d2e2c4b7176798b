package backend

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsDoNotShareAPrefix(t *testing.T) {
	h := NewHub(bus.New())
	c1, unsub1 := h.Subscribe(streamTopic("c1"))
	defer unsub1()
	c10, unsub10 := h.Subscribe(streamTopic("c10"))
	defer unsub10()

	h.Publish(streamTopic("c10"), wire.Frame{Type: wire.FrameMessageInserted})

	select {
	case <-c10:
	case <-time.After(time.Second):
		t.Fatal("c10 subscriber missed its frame")
	}
	select {
	case evt := <-c1:
		t.Fatalf("c1 subscriber received %v", evt)
	default:
	}
}

func TestPresenceCountsConnections(t *testing.T) {
	h := NewHub(bus.New())
	events, unsub := h.Subscribe(presenceTopic)
	defer unsub()

	h.Connect("ana")
	h.Connect("ana")
	h.Connect("bruno")
	h.Disconnect("ana")

	snap := h.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "ana", snap.Entries[0].ParticipantID)
	assert.Equal(t, "bruno", snap.Entries[1].ParticipantID)

	h.Disconnect("ana")
	snap = h.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "bruno", snap.Entries[0].ParticipantID)

	// Every change is broadcast.
	assert.Len(t, events, 5)
}
