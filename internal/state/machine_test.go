package state

import "testing"

func TestInitialState(t *testing.T) {
	m := New("test-function")
	if m.State() != Uninitialized {
		t.Fatalf("expected Uninitialized, got %v", m.State())
	}
	if m.TransitionCount() != 0 {
		t.Fatalf("expected 0 transitions, got %d", m.TransitionCount())
	}
}

func TestValidTransitions(t *testing.T) {
	m := New("test-function")

	if err := m.TransitionTo(WarmSnapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.State() != WarmSnapshot {
		t.Fatalf("expected WarmSnapshot, got %v", m.State())
	}

	if err := m.TransitionTo(Running); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.TransitionTo(Suspended); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.TransitionTo(Running); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.TransitionCount() != 4 {
		t.Fatalf("expected 4 transitions, got %d", m.TransitionCount())
	}
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	m := New("test-function")

	if err := m.TransitionTo(Suspended); err == nil {
		t.Fatalf("expected error for Uninitialized -> Suspended")
	}
	if m.State() != Uninitialized {
		t.Fatalf("state changed on rejected transition: %v", m.State())
	}
	if m.TransitionCount() != 0 {
		t.Fatalf("transition count changed on rejected transition: %d", m.TransitionCount())
	}
}

func TestIsInvokable(t *testing.T) {
	m := New("test-function")
	if m.IsInvokable() {
		t.Fatalf("should not be invokable initially")
	}

	if err := m.TransitionTo(WarmSnapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.HasWarmSnapshot() || !m.IsInvokable() {
		t.Fatalf("expected warm snapshot + invokable")
	}

	if err := m.TransitionTo(Running); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.IsInvokable() {
		t.Fatalf("expected invokable while running")
	}
}

func TestAllTransitionsTable(t *testing.T) {
	cases := []struct {
		from, to FunctionState
		ok       bool
	}{
		{Uninitialized, WarmSnapshot, true},
		{Uninitialized, Running, true},
		{Uninitialized, Suspended, false},
		{WarmSnapshot, Running, true},
		{WarmSnapshot, Uninitialized, true},
		{WarmSnapshot, Suspended, false},
		{Running, Suspended, true},
		{Running, WarmSnapshot, true},
		{Running, Uninitialized, false},
		{Suspended, Running, true},
		{Suspended, WarmSnapshot, true},
		{Suspended, Uninitialized, true},
	}
	for _, tc := range cases {
		if got := canTransitionTo(tc.from, tc.to); got != tc.ok {
			t.Errorf("canTransitionTo(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
