package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Loading},
		{Booting, Stopped},
		{Loading, Live},
		{Loading, Degraded},
		{Live, Degraded},
		{Degraded, Live},
		{Live, Stopped},
		{Degraded, Stopped},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to, ""); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Live, ""); err == nil {
		t.Error("Transition(BOOTING -> LIVE) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (should not have changed)", m.Current())
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Stopped)
	for _, to := range []State{Booting, Loading, Live, Degraded} {
		if err := m.Transition(to, ""); err == nil {
			t.Errorf("Transition(STOPPED -> %s) should fail", to)
		}
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	walkTo(t, m, Degraded)
	drain(ch)

	if err := m.Transition(Degraded, "again"); err != nil {
		t.Fatalf("Transition(DEGRADED -> DEGRADED) error = %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Loading, "initial fetch"); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Loading {
		t.Errorf("change = %v -> %v, want BOOTING -> LOADING", change.From, change.To)
	}
	if change.Reason != "initial fetch" || m.Reason() != "initial fetch" {
		t.Errorf("reason = %q, want %q", change.Reason, "initial fetch")
	}
}

// TestDegradedRecovers walks the subscription-failure cycle:
// LOADING → DEGRADED → LIVE → DEGRADED → LIVE
func TestDegradedRecovers(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Loading)

	steps := []State{Degraded, Live, Degraded, Live}
	for _, s := range steps {
		if err := m.Transition(s, ""); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Live {
		t.Errorf("final state = %s, want LIVE", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Loading:  {Loading},
		Live:     {Loading, Live},
		Degraded: {Loading, Degraded},
		Stopped:  {Stopped},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s, ""); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}

func drain(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
