package model

import (
	"fmt"
	"slices"
)

// LifecycleState is the delivery state of a message in a local log.
type LifecycleState string

const (
	Pending   LifecycleState = "PENDING"
	Confirmed LifecycleState = "CONFIRMED"
	Failed    LifecycleState = "FAILED"
)

// lifecycleTransitions lists the allowed state changes. Failed -> Pending is
// a user resend.
var lifecycleTransitions = map[LifecycleState][]LifecycleState{
	Pending:   {Confirmed, Failed},
	Failed:    {Pending},
	Confirmed: {},
}

// CanTransition reports whether a message may move from one state to another.
func CanTransition(from, to LifecycleState) bool {
	return slices.Contains(lifecycleTransitions[from], to)
}

// Transition moves m to the given state or returns an error if not allowed.
func (m *Message) Transition(to LifecycleState) error {
	if !CanTransition(m.State, to) {
		return fmt.Errorf("invalid message transition from %s to %s", m.State, to)
	}
	m.State = to
	return nil
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	if m.Tags != nil {
		m.Tags = slices.Clone(m.Tags)
	}
	return m
}
