package snapshot

import (
	"context"
	"testing"
	"time"
)

func TestDumpPathIncludesFunctionID(t *testing.T) {
	m := &Manager{snapshotDir: "/tmp/aetherless-test"}
	got := m.dumpPath("hello-world")
	want := "/tmp/aetherless-test/criu_dump_hello-world"
	if got != want {
		t.Fatalf("dumpPath = %q, want %q", got, want)
	}
}

func TestRestoreUnknownFunctionIsNotFound(t *testing.T) {
	m := &Manager{
		snapshotDir:    t.TempDir(),
		restoreTimeout: 15 * time.Millisecond,
		snapshots:      make(map[string]Metadata),
	}
	if _, err := m.Restore(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error restoring a function with no snapshot")
	}
}

func TestRestoreCountAndLastRestoreMSStartEmpty(t *testing.T) {
	m := &Manager{snapshotDir: t.TempDir(), snapshots: make(map[string]Metadata)}
	if got := m.RestoreCount("f"); got != 0 {
		t.Fatalf("RestoreCount = %d, want 0 for a function with no restores", got)
	}
	if _, ok := m.LastRestoreMS("f"); ok {
		t.Fatalf("LastRestoreMS reported ok for a function with no restores")
	}
}

func TestHasSnapshotFalseWhenPathRemoved(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{
		snapshotDir: dir,
		snapshots: map[string]Metadata{
			"f": {FunctionID: "f", Path: dir + "/gone"},
		},
	}
	if m.HasSnapshot("f") {
		t.Fatalf("expected HasSnapshot to report false for a removed path")
	}
}
