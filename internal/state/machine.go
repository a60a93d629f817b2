// Package state validates the task execution lifecycle. The lifecycle is a
// single linear machine; the machine exists so that an out-of-order engine
// bug fails loudly instead of producing a half-classified result.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase is one step of the task execution lifecycle.
type Phase string

const (
	// PhaseCreating covers remote session creation.
	PhaseCreating Phase = "creating"
	// PhaseIterating covers the prompt/interpret loop.
	PhaseIterating Phase = "iterating"
	// PhaseFinalizing covers the final summary and diff fetch.
	PhaseFinalizing Phase = "finalizing"
	// PhaseDone is terminal.
	PhaseDone Phase = "done"
)

var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhaseCreating: {
		PhaseIterating: {},
	},
	PhaseIterating: {
		PhaseFinalizing: {},
	},
	PhaseFinalizing: {
		PhaseDone: {},
	},
}

// TransitionRecord stores one completed phase transition.
type TransitionRecord struct {
	From      Phase
	To        Phase
	Reason    string
	Timestamp time.Time
}

// IllegalTransitionError is returned for a disallowed phase transition.
type IllegalTransitionError struct {
	From Phase
	To   Phase
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition task from %q to %q", e.From, e.To)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Machine tracks the current phase of one task execution.
type Machine struct {
	current Phase
	now     func() time.Time
	history []TransitionRecord
}

// NewMachine builds a phase machine starting in PhaseCreating.
func NewMachine() *Machine {
	return &Machine{
		current: PhaseCreating,
		now:     time.Now,
		history: []TransitionRecord{},
	}
}

// Current returns the task's current phase.
func (m *Machine) Current() Phase {
	if m == nil {
		return ""
	}
	return m.current
}

// Advance validates and records one phase transition.
func (m *Machine) Advance(to Phase, reason string) error {
	if m == nil {
		return errors.New("machine is nil")
	}

	next, ok := allowedTransitions[m.current]
	if !ok {
		return &IllegalTransitionError{From: m.current, To: to}
	}
	if _, ok := next[to]; !ok {
		return &IllegalTransitionError{From: m.current, To: to}
	}

	m.history = append(m.history, TransitionRecord{
		From:      m.current,
		To:        to,
		Reason:    strings.TrimSpace(reason),
		Timestamp: m.now().UTC(),
	})
	m.current = to
	return nil
}

// History returns a copy of recorded transitions.
func (m *Machine) History() []TransitionRecord {
	if m == nil {
		return nil
	}
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}
