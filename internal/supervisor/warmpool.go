package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/internal/metrics"
	"github.com/ankitkpandey1/aetherless/internal/registry"
	"github.com/ankitkpandey1/aetherless/internal/snapshot"
	"github.com/ankitkpandey1/aetherless/internal/state"
)

// Hydrator pre-spawns and checkpoints warm instances at startup so the
// first invocation of a function can restore instead of cold-spawning.
type Hydrator struct {
	sup       *Supervisor
	snapshots *snapshot.Manager
	socketDir string
	metrics   *metrics.Registry // nil unless SetMetrics is called
}

func NewHydrator(sup *Supervisor, snapshots *snapshot.Manager, socketDir string) *Hydrator {
	return &Hydrator{sup: sup, snapshots: snapshots, socketDir: socketDir}
}

// SetMetrics attaches a metrics registry for restore accounting.
func (h *Hydrator) SetMetrics(m *metrics.Registry) {
	h.metrics = m
}

// Hydrate spawns one instance of id, dumps it to a snapshot, and leaves the
// record in WarmSnapshot. The snapshot manager keeps one snapshot per
// function, so any cfg.WarmPoolSize above zero yields exactly one warm
// snapshot; the size does not set how many instances are dumped. It
// invalidates any existing snapshot whose handler binary has changed since
// it was taken.
func (h *Hydrator) Hydrate(ctx context.Context, id string) error {
	rec, ok := h.sup.reg.Get(id)
	if !ok {
		return &aethererr.InvalidFieldValue{Field: "function_id", Value: id, Reason: "not registered"}
	}
	cfg := rec.Config()
	if cfg.WarmPoolSize <= 0 {
		return nil
	}

	if h.snapshotStale(id, cfg) {
		_ = h.snapshots.Delete(id)
	}
	if h.snapshots.HasSnapshot(id) {
		return rec.Machine().TransitionTo(state.WarmSnapshot)
	}

	proc, err := Spawn(ctx, SpawnOptions{
		FunctionID:  id,
		HandlerPath: cfg.HandlerPath.Path(),
		TriggerPort: cfg.TriggerPort.Value(),
		SocketDir:   h.socketDir,
		Environment: cfg.Environment,
		Logger:      h.sup.logger,
	})
	if err != nil {
		return err
	}

	if _, err := h.snapshots.Dump(ctx, id, uint32(proc.PID()), cfg.HandlerPath.Path()); err != nil {
		_ = proc.Kill()
		return err
	}
	if err := proc.Kill(); err != nil {
		return err
	}

	return rec.Machine().TransitionTo(state.WarmSnapshot)
}

// snapshotStale reports whether id's handler binary has a different mtime
// than it did when the existing snapshot was dumped, per spec §5's
// handler-mtime invalidation rule. Comparing against the recorded
// HandlerMTime (not the snapshot's CreatedAt) is deliberate: a redeploy can
// set an mtime either before or after the dump's wall-clock time, and only
// a direct mtime-to-mtime comparison catches both.
func (h *Hydrator) snapshotStale(id string, cfg registry.Config) bool {
	meta, ok := h.snapshots.Get(id)
	if !ok {
		return false
	}
	handlerInfo, err := os.Stat(cfg.HandlerPath.Path())
	if err != nil {
		return false
	}
	return !handlerInfo.ModTime().Equal(meta.HandlerMTime)
}

// Activate restores id from its warm snapshot and transitions straight to
// Running, publishing the routing entry in the same critical section as a
// cold Activate. Falls back to a cold spawn if no warm snapshot exists.
func (h *Hydrator) Activate(ctx context.Context, id string, addr uint32) error {
	rec, ok := h.sup.reg.Get(id)
	if !ok {
		return &aethererr.InvalidFieldValue{Field: "function_id", Value: id, Reason: "not registered"}
	}
	if !h.snapshots.HasSnapshot(id) {
		return h.sup.Activate(ctx, id, h.socketDir, addr)
	}

	restoreStart := time.Now()
	pid, err := h.snapshots.Restore(ctx, id)
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.IncRestores()
		h.metrics.ObserveRestoreDuration(time.Since(restoreStart).Seconds())
	}

	if err := rec.Machine().TransitionTo(state.Running); err != nil {
		return err
	}
	rec.SetPID(pid)

	cfg := rec.Config()
	if err := h.sup.router.RegisterPort(cfg.TriggerPort.Value(), pid, addr); err != nil {
		_ = rec.Machine().TransitionTo(state.Uninitialized)
		return err
	}

	rb, err := openRingBuffer(id, h.sup.ringCapacity())
	if err != nil {
		_ = h.sup.router.UnregisterPort(cfg.TriggerPort.Value())
		_ = rec.Machine().TransitionTo(state.Uninitialized)
		return err
	}
	rec.SetRingBuffer(rb)

	return nil
}

func socketPathFor(socketDir, id string) string {
	return filepath.Join(socketDir, id+".sock")
}
