// Package state implements the per-function lifecycle state machine:
// Uninitialized -> WarmSnapshot -> Running -> Suspended, with a fixed table
// of permitted transitions enforced under a per-record lock.
package state

import (
	"sync"
	"time"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
)

// FunctionState is one of the four lifecycle states a function record can
// occupy.
type FunctionState int

const (
	Uninitialized FunctionState = iota
	WarmSnapshot
	Running
	Suspended
)

func (s FunctionState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case WarmSnapshot:
		return "WarmSnapshot"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// canTransitionTo is the fixed table from spec §4.E.
func canTransitionTo(from, to FunctionState) bool {
	switch from {
	case Uninitialized:
		return to == WarmSnapshot || to == Running
	case WarmSnapshot:
		return to == Running || to == Uninitialized
	case Running:
		return to == Suspended || to == WarmSnapshot
	case Suspended:
		return to == Running || to == WarmSnapshot || to == Uninitialized
	default:
		return false
	}
}

// Machine is a per-function state machine. Every method is safe for
// concurrent use; transitions are atomic under an internal lock.
type Machine struct {
	mu              sync.Mutex
	functionID      string
	current         FunctionState
	lastTransition  time.Time
	transitionCount uint64
}

func New(functionID string) *Machine {
	return &Machine{
		functionID:     functionID,
		current:        Uninitialized,
		lastTransition: time.Now(),
	}
}

func (m *Machine) State() FunctionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine) TransitionCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionCount
}

func (m *Machine) TimeInCurrentState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastTransition)
}

// TransitionTo attempts a transition. On rejection, state and
// transition_count are left unchanged and an InvalidTransition error wrapping
// aethererr.ErrInvalidStateTransition is returned.
func (m *Machine) TransitionTo(target FunctionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !canTransitionTo(m.current, target) {
		return &InvalidTransition{FunctionID: m.functionID, From: m.current, To: target}
	}

	m.current = target
	m.lastTransition = time.Now()
	m.transitionCount++
	return nil
}

func (m *Machine) IsInvokable() bool {
	s := m.State()
	return s == Running || s == WarmSnapshot
}

func (m *Machine) HasWarmSnapshot() bool {
	return m.State() == WarmSnapshot
}

// InvalidTransition reports a rejected transition attempt.
type InvalidTransition struct {
	FunctionID string
	From       FunctionState
	To         FunctionState
}

func (e *InvalidTransition) Error() string {
	return "invalid state transition for " + e.FunctionID + ": " + e.From.String() + " -> " + e.To.String()
}

func (e *InvalidTransition) Unwrap() error { return aethererr.ErrInvalidStateTransition }

// Metrics is a point-in-time snapshot of a Machine, for the stats publisher.
type Metrics struct {
	FunctionID      string
	CurrentState    string
	TimeInStateMS   uint64
	TransitionCount uint64
}

func (m *Machine) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		FunctionID:      m.functionID,
		CurrentState:    m.current.String(),
		TimeInStateMS:   uint64(time.Since(m.lastTransition).Milliseconds()),
		TransitionCount: m.transitionCount,
	}
}
