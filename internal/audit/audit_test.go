package audit

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndHistoryOrdering(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if err := l.Record(ctx, "hello", EventDeployed, "v1"); err != nil {
		t.Fatalf("recording deploy event: %v", err)
	}
	if err := l.Record(ctx, "hello", EventActivated, ""); err != nil {
		t.Fatalf("recording activate event: %v", err)
	}

	history, err := l.History(ctx, "hello", 10)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].Type != EventActivated {
		t.Fatalf("expected most recent event first, got %s", history[0].Type)
	}
}

func TestHistoryScopedByFunctionID(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	l.Record(ctx, "a", EventDeployed, "")
	l.Record(ctx, "b", EventDeployed, "")

	history, err := l.History(ctx, "a", 10)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected history scoped to function a, got %d events", len(history))
	}
}
