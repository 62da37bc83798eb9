package domain

import (
	"strings"
	"testing"
)

func TestNewFunctionID(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"valid simple", "hello", true},
		{"valid with dash and underscore", "my-function_123", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 65), false},
		{"invalid char", "func@name", false},
		{"space", "func name", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFunctionID(tc.id)
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got err %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error, got none")
			}
		})
	}
}

func TestNewPort(t *testing.T) {
	if _, err := NewPort(0); err == nil {
		t.Fatalf("expected error for port 0")
	}
	if _, err := NewPort(65535); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewMemoryLimitMB(t *testing.T) {
	if _, err := NewMemoryLimitMB(0); err == nil {
		t.Fatalf("expected error for 0 MiB")
	}
	if _, err := NewMemoryLimitMB(16385); err == nil {
		t.Fatalf("expected error over max")
	}
	if _, err := NewMemoryLimitMB(128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewTimeoutMS(t *testing.T) {
	if _, err := NewTimeoutMS(0); err == nil {
		t.Fatalf("expected error for 0 ms")
	}
	if _, err := NewTimeoutMS(900001); err == nil {
		t.Fatalf("expected error over max")
	}
}

func TestNewEnvironment(t *testing.T) {
	if _, err := NewEnvironment(map[string]string{"lower_case": "x"}); err == nil {
		t.Fatalf("expected error for lowercase key")
	}
	env, err := NewEnvironment(map[string]string{"FOO_BAR": "baz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env["FOO_BAR"] != "baz" {
		t.Fatalf("unexpected value: %v", env)
	}
}
