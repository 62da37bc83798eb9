// Package snapshot implements checkpoint/restore of handler processes via
// CRIU, following original_source/aetherless-core/src/criu/snapshot.rs. The
// restore path enforces spec §4.D's hard latency budget as a correctness
// property: a restore that exceeds restore_timeout_ms is killed and reported
// as a failure before anything else about the restored process is trusted.
// Metadata publication follows internal/builder/builder.go's atomic
// rename-after-build pattern.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/pkg/fs"
)

const dumpDirPrefix = "criu_dump"

var criuCandidates = []string{
	"/usr/sbin/criu",
	"/usr/bin/criu",
	"/sbin/criu",
	"/bin/criu",
	"/usr/local/sbin/criu",
	"/usr/local/bin/criu",
}

// Metadata describes a single function's on-disk snapshot.
type Metadata struct {
	FunctionID   string
	Path         string
	OriginalPID  uint32
	CreatedAt    time.Time
	HandlerMTime time.Time     // handler binary's mtime at dump time, for staleness checks at hydration
	Digest       digest.Digest // integrity hash of the dump directory's file manifest
}

// Manager checkpoints and restores handler processes, enforcing the
// restore latency budget on every Restore call.
type Manager struct {
	snapshotDir    string
	restoreTimeout time.Duration
	criuPath       string

	mu            sync.RWMutex
	snapshots     map[string]Metadata
	restoreCounts map[string]uint64
	lastRestoreMS map[string]int64
}

// New locates the CRIU binary and prepares snapshotDir. restoreTimeout
// should come from the orchestrator config's restore_timeout_ms.
func New(snapshotDir string, restoreTimeout time.Duration) (*Manager, error) {
	criuPath, err := findCRIU()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating snapshot dir: %v", aethererr.ErrDumpFailed, err)
	}
	return &Manager{
		snapshotDir:    snapshotDir,
		restoreTimeout: restoreTimeout,
		criuPath:       criuPath,
		snapshots:      make(map[string]Metadata),
		restoreCounts:  make(map[string]uint64),
		lastRestoreMS:  make(map[string]int64),
	}, nil
}

func findCRIU() (string, error) {
	for _, p := range criuCandidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	if out, err := exec.Command("which", "criu").Output(); err == nil {
		if p := strings.TrimSpace(string(out)); p != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: criu binary not found in PATH or standard locations", aethererr.ErrDumpFailed)
}

func (m *Manager) dumpPath(functionID string) string {
	return filepath.Join(m.snapshotDir, fmt.Sprintf("%s_%s", dumpDirPrefix, functionID))
}

// Dump checkpoints pid to disk, replacing any prior snapshot for functionID.
// handlerPath is the handler binary backing pid; its mtime at dump time is
// recorded so a later hydration can detect a redeploy and discard a stale
// snapshot instead of restoring a process that no longer matches the binary
// on disk.
func (m *Manager) Dump(ctx context.Context, functionID string, pid uint32, handlerPath string) (Metadata, error) {
	dumpPath := m.dumpPath(functionID)

	handlerInfo, err := os.Stat(handlerPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: stat handler %s: %v", aethererr.ErrDumpFailed, handlerPath, err)
	}

	if err := os.RemoveAll(dumpPath); err != nil {
		return Metadata{}, fmt.Errorf("%w: removing old dump: %v", aethererr.ErrDumpFailed, err)
	}
	if err := os.MkdirAll(dumpPath, 0o755); err != nil {
		return Metadata{}, fmt.Errorf("%w: creating dump dir: %v", aethererr.ErrDumpFailed, err)
	}

	cmd := exec.CommandContext(ctx, m.criuPath,
		"dump",
		"-t", strconv.FormatUint(uint64(pid), 10),
		"-D", dumpPath,
		"-j", "--shell-job",
		"-v4",
		"--tcp-established",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v: %s", aethererr.ErrDumpFailed, err, output)
	}

	dgst, err := manifestDigest(dumpPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: digesting dump: %v", aethererr.ErrDumpFailed, err)
	}

	meta := Metadata{
		FunctionID:   functionID,
		Path:         dumpPath,
		OriginalPID:  pid,
		CreatedAt:    time.Now(),
		HandlerMTime: handlerInfo.ModTime(),
		Digest:       dgst,
	}

	if err := m.publish(meta); err != nil {
		return Metadata{}, err
	}

	m.mu.Lock()
	m.snapshots[functionID] = meta
	m.mu.Unlock()

	return meta, nil
}

// publish atomically writes the snapshot metadata sidecar file so a
// concurrent reader never observes a partially-written manifest.
func (m *Manager) publish(meta Metadata) error {
	sidecar := filepath.Join(meta.Path, "..", fmt.Sprintf("%s_%s.meta", dumpDirPrefix, meta.FunctionID))
	content := fmt.Sprintf("pid=%d\ncreated_at=%d\nhandler_mtime=%d\ndigest=%s\n",
		meta.OriginalPID, meta.CreatedAt.Unix(), meta.HandlerMTime.Unix(), meta.Digest)
	return fs.WriteFileAtomic(sidecar, []byte(content), 0o644)
}

// Restore restores functionID's most recent snapshot and returns the new
// process id. The restore_timeout_ms budget is enforced before anything
// else: a restore that runs long is killed and reported as a
// LatencyViolation even if CRIU itself reports success.
func (m *Manager) Restore(ctx context.Context, functionID string) (uint32, error) {
	m.mu.RLock()
	meta, ok := m.snapshots[functionID]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", aethererr.ErrSnapshotNotFound, functionID)
	}
	if _, err := os.Stat(meta.Path); err != nil {
		return 0, fmt.Errorf("%w: %s", aethererr.ErrSnapshotNotFound, functionID)
	}

	pidFile := filepath.Join(meta.Path, "restored.pid")

	cmd := exec.CommandContext(ctx, m.criuPath,
		"restore",
		"-D", meta.Path,
		"-j", "--shell-job",
		"-d",
		"--pidfile", pidFile,
	)

	start := time.Now()
	output, runErr := cmd.CombinedOutput()
	elapsed := time.Since(start)

	// Latency budget is checked first, ahead of the command's own exit
	// status: a slow restore is a failure regardless of whether CRIU thinks
	// it succeeded.
	if elapsed > m.restoreTimeout {
		if pid, err := readPIDFile(pidFile); err == nil {
			killPID(pid)
		}
		return 0, &aethererr.LatencyViolation{
			ActualMS: elapsed.Milliseconds(),
			LimitMS:  m.restoreTimeout.Milliseconds(),
		}
	}

	if runErr != nil {
		return 0, fmt.Errorf("%w: %v: %s", aethererr.ErrRestoreFailed, runErr, output)
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("%w: reading pid file: %v", aethererr.ErrRestoreFailed, err)
	}

	m.mu.Lock()
	m.restoreCounts[functionID]++
	m.lastRestoreMS[functionID] = elapsed.Milliseconds()
	m.mu.Unlock()

	return pid, nil
}

// RestoreCount returns the number of successful restores recorded for
// functionID, satisfying stats.RestoreTracker.
func (m *Manager) RestoreCount(functionID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restoreCounts[functionID]
}

// LastRestoreMS returns the wall-clock duration of functionID's most recent
// successful restore, satisfying stats.RestoreTracker.
func (m *Manager) LastRestoreMS(functionID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.lastRestoreMS[functionID]
	return ms, ok
}

func readPIDFile(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(pid), nil
}

func killPID(pid uint32) {
	_ = exec.Command("kill", "-9", strconv.FormatUint(uint64(pid), 10)).Run()
}

// HasSnapshot reports whether a live snapshot is recorded for functionID.
func (m *Manager) HasSnapshot(functionID string) bool {
	m.mu.RLock()
	meta, ok := m.snapshots[functionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	_, err := os.Stat(meta.Path)
	return err == nil
}

// Get returns the recorded snapshot metadata for functionID, if any.
func (m *Manager) Get(functionID string) (Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.snapshots[functionID]
	return meta, ok
}

// Delete removes functionID's snapshot from disk and from the index.
func (m *Manager) Delete(functionID string) error {
	m.mu.Lock()
	meta, ok := m.snapshots[functionID]
	delete(m.snapshots, functionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(meta.Path); err != nil {
		return fmt.Errorf("%w: %v", aethererr.ErrDumpFailed, err)
	}
	return nil
}

// manifestDigest hashes the sorted list of "relpath size" lines in dir,
// giving a cheap content-integrity check that invalidates whenever CRIU's
// output changes shape, without hashing potentially large image files.
func manifestDigest(dir string) (digest.Digest, error) {
	var lines []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%s %d", rel, info.Size()))
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest.FromString(strings.Join(lines, "\n")), nil
}
