package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failing  map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, failing: map[string]bool{}}
}

func (f *fakeFetcher) ListMessages(ctx context.Context, conversationID, cursor string) (model.MessagePage, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[conversationID]++
	fail := f.failing[conversationID]
	f.mu.Unlock()
	if fail {
		return model.MessagePage{}, errors.New("service unavailable")
	}
	return model.MessagePage{Items: []model.RawMessage{{ID: "m-" + conversationID, ConversationID: conversationID}}}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	targets  []string
	merged   map[string]int
	repaired map[string]int
}

func newFakeSink(targets ...string) *fakeSink {
	return &fakeSink{targets: targets, merged: map[string]int{}, repaired: map[string]int{}}
}

func (s *fakeSink) Targets() []string { return s.targets }

func (s *fakeSink) Merge(conversationID string, page model.MessagePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged[conversationID] += len(page.Items)
}

func (s *fakeSink) Repair(ctx context.Context, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repaired[conversationID]++
}

func (s *fakeSink) mergedCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merged[id]
}

func TestTickMergesEveryTarget(t *testing.T) {
	f := newFakeFetcher()
	sink := newFakeSink("C1", "C2", "C3")
	p := New(f, sink, time.Hour, 2, nil, nil)

	require.NoError(t, p.Tick(context.Background()))

	for _, id := range []string{"C1", "C2", "C3"} {
		assert.Equal(t, 1, sink.mergedCount(id), id)
		assert.Equal(t, 1, sink.repaired[id], id)
	}
}

func TestTickAbsorbsFailures(t *testing.T) {
	f := newFakeFetcher()
	f.failing["C2"] = true
	sink := newFakeSink("C1", "C2", "C3")
	p := New(f, sink, time.Hour, 4, nil, nil)

	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll C2")

	assert.Equal(t, 1, sink.mergedCount("C1"))
	assert.Equal(t, 0, sink.mergedCount("C2"))
	assert.Equal(t, 1, sink.mergedCount("C3"))

	// Next tick retries.
	f.mu.Lock()
	f.failing["C2"] = false
	f.mu.Unlock()
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, 1, sink.mergedCount("C2"))
}

func TestTickRespectsConcurrencyLimit(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 20 * time.Millisecond
	sink := newFakeSink("C1", "C2", "C3", "C4", "C5", "C6")
	p := New(f, sink, time.Hour, 2, nil, nil)

	require.NoError(t, p.Tick(context.Background()))
	assert.LessOrEqual(t, f.peak.Load(), int32(2))
}

func TestStartTicksUntilStopped(t *testing.T) {
	f := newFakeFetcher()
	sink := newFakeSink("C1")
	p := New(f, sink, 10*time.Millisecond, 0, nil, nil)

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return sink.mergedCount("C1") >= 2 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	after := sink.mergedCount("C1")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, sink.mergedCount("C1"))
}

func TestDefaults(t *testing.T) {
	p := New(newFakeFetcher(), newFakeSink(), 0, 0, nil, nil)
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultConcurrency, p.concurrency)
}
