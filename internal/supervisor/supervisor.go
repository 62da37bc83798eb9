package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/internal/metrics"
	"github.com/ankitkpandey1/aetherless/internal/registry"
	"github.com/ankitkpandey1/aetherless/internal/ring"
	"github.com/ankitkpandey1/aetherless/internal/shm"
	"github.com/ankitkpandey1/aetherless/internal/state"
	"github.com/ankitkpandey1/aetherless/pkg/idgen"
)

// defaultRingCapacity is used when no shm buffer size has been configured
// via SetShmBufferSize, mirroring internal/config's own default.
const defaultRingCapacity = 4 * 1024 * 1024

const (
	restartBaseBackoff = 100 * time.Millisecond
	restartCapBackoff  = 10 * time.Second
	restartMaxAttempts = 5
	restartWindow      = 60 * time.Second

	defaultShutdownTimeout = time.Second
)

// RoutingPublisher is the subset of the port router the supervisor needs:
// publish/withdraw a routing entry around a handshake completing or a
// process going away. Defined here, implemented by internal/router, to keep
// supervisor from importing router directly (arena+index pattern per the
// design notes: no back-pointers between subsystems).
type RoutingPublisher interface {
	RegisterPort(port uint16, pid uint32, addr uint32) error
	UnregisterPort(port uint16) error
}

// Supervisor drives spawn, handshake, health monitoring, restart and
// shutdown for every record in a Registry.
type Supervisor struct {
	reg           *registry.Registry
	router        RoutingPublisher
	logger        *slog.Logger
	metrics       *metrics.Registry // nil unless SetMetrics is called
	shmBufferSize int               // ring buffer data capacity; 0 means defaultRingCapacity

	mu        sync.Mutex
	processes map[string]*Process
	attempts  map[string][]time.Time
}

// SetMetrics attaches a metrics registry for cold-start accounting. Safe to
// skip entirely; a Supervisor with no metrics registry just doesn't record.
func (s *Supervisor) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// SetShmBufferSize sets the data capacity of the ring buffer opened for
// each activation, from the orchestrator config's shm_buffer_size. Must be
// a power of two; ring.New enforces this at creation time.
func (s *Supervisor) SetShmBufferSize(n int) {
	s.shmBufferSize = n
}

func (s *Supervisor) ringCapacity() int {
	if s.shmBufferSize <= 0 {
		return defaultRingCapacity
	}
	return s.shmBufferSize
}

// openRingBuffer creates a fresh shared-memory ring buffer for id, used as
// the orchestrator<->handler IPC channel while the function is Running
// (spec §2, §4.D). The region is freshly created, not reused across
// activations, since the ring buffer is explicitly not crash-safe.
func openRingBuffer(id string, capacity int) (*registry.RingBuffer, error) {
	name, err := idgen.RingBufferName(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aethererr.ErrCreate, err)
	}
	region, err := shm.Create(name, ring.HeaderSize+capacity)
	if err != nil {
		return nil, err
	}
	r, err := ring.New(region)
	if err != nil {
		region.Close()
		return nil, err
	}
	return &registry.RingBuffer{Name: name, Region: region, Ring: r}, nil
}

func New(reg *registry.Registry, router RoutingPublisher, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		reg:       reg,
		router:    router,
		logger:    logger,
		processes: make(map[string]*Process),
		attempts:  make(map[string][]time.Time),
	}
}

// Activate spawns id's handler, and on a successful handshake transitions
// the record to Running and publishes the routing entry in the same
// critical section required by spec §5.
func (s *Supervisor) Activate(ctx context.Context, id string, socketDir string, addr uint32) error {
	rec, ok := s.reg.Get(id)
	if !ok {
		return &aethererr.InvalidFieldValue{Field: "function_id", Value: id, Reason: "not registered"}
	}
	cfg := rec.Config()

	proc, err := Spawn(ctx, SpawnOptions{
		FunctionID:  id,
		HandlerPath: cfg.HandlerPath.Path(),
		TriggerPort: cfg.TriggerPort.Value(),
		SocketDir:   socketDir,
		Environment: cfg.Environment,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}

	if err := rec.Machine().TransitionTo(state.Running); err != nil {
		_ = proc.Kill()
		return err
	}
	rec.SetPID(uint32(proc.PID()))

	if err := s.router.RegisterPort(cfg.TriggerPort.Value(), uint32(proc.PID()), addr); err != nil {
		_ = proc.Kill()
		_ = rec.Machine().TransitionTo(state.Uninitialized)
		return err
	}

	rb, err := openRingBuffer(id, s.ringCapacity())
	if err != nil {
		_ = proc.Kill()
		_ = s.router.UnregisterPort(cfg.TriggerPort.Value())
		_ = rec.Machine().TransitionTo(state.Uninitialized)
		return err
	}
	rec.SetRingBuffer(rb)

	s.mu.Lock()
	s.processes[id] = proc
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncColdStarts()
	}

	go s.monitor(ctx, id, socketDir, addr)
	return nil
}

// monitor waits for the child to exit and, if the record is still Running,
// removes the routing entry, transitions to Uninitialized and attempts a
// backoff respawn per spec §4.H.
func (s *Supervisor) monitor(ctx context.Context, id, socketDir string, addr uint32) {
	s.mu.Lock()
	proc, ok := s.processes[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	proc.cmd.Wait()

	rec, ok := s.reg.Get(id)
	if !ok {
		return
	}
	if rec.State() != state.Running {
		return
	}

	cfg := rec.Config()
	_ = s.router.UnregisterPort(cfg.TriggerPort.Value())
	_ = rec.TakeRingBuffer().Close()
	// Running has no direct edge to Uninitialized; it passes through Suspended.
	_ = rec.Machine().TransitionTo(state.Suspended)
	_ = rec.Machine().TransitionTo(state.Uninitialized)

	s.logger.WarnContext(ctx, "function process exited unexpectedly",
		"function_id", id, "pid", proc.PID())

	if !s.reserveRestartAttempt(id) {
		s.logger.ErrorContext(ctx, "restart budget exhausted", "function_id", id)
		return
	}

	backoff := s.nextBackoff(id)
	time.Sleep(backoff)

	if err := s.Activate(ctx, id, socketDir, addr); err != nil {
		s.logger.ErrorContext(ctx, "respawn failed", "function_id", id, "error", err)
	}
}

// reserveRestartAttempt records an attempt within the trailing restart
// window and reports whether the budget still allows one.
func (s *Supervisor) reserveRestartAttempt(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)
	attempts := s.attempts[id][:0]
	for _, t := range s.attempts[id] {
		if t.After(cutoff) {
			attempts = append(attempts, t)
		}
	}
	if len(attempts) >= restartMaxAttempts {
		s.attempts[id] = attempts
		return false
	}
	s.attempts[id] = append(attempts, now)
	return true
}

func (s *Supervisor) nextBackoff(id string) time.Duration {
	s.mu.Lock()
	n := len(s.attempts[id])
	s.mu.Unlock()

	backoff := time.Duration(float64(restartBaseBackoff) * math.Pow(2, float64(n-1)))
	if backoff > restartCapBackoff {
		backoff = restartCapBackoff
	}
	return backoff
}

// Shutdown gracefully stops id: withdraw its routing entry, SIGTERM, wait up
// to shutdownTimeout, then SIGKILL, in reverse acquisition order per §4.H.
func (s *Supervisor) Shutdown(ctx context.Context, id string, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	rec, ok := s.reg.Get(id)
	if !ok {
		return &aethererr.InvalidFieldValue{Field: "function_id", Value: id, Reason: "not registered"}
	}

	cfg := rec.Config()
	_ = s.router.UnregisterPort(cfg.TriggerPort.Value())
	_ = rec.TakeRingBuffer().Close()

	s.mu.Lock()
	proc, ok := s.processes[id]
	delete(s.processes, id)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	// Running has no direct edge to Uninitialized. Moving to Suspended first
	// also tells monitor that this exit is expected and must not respawn.
	if rec.State() == state.Running {
		_ = rec.Machine().TransitionTo(state.Suspended)
	}

	if err := proc.Terminate(shutdownTimeout); err != nil {
		return err
	}
	return rec.Machine().TransitionTo(state.Uninitialized)
}
