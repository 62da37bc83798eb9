// Package registry implements the concurrent FunctionId -> FunctionRecord
// map required by spec §4.F: independently locked records, plus a single
// process-wide lock that guards only port reservation and enumeration, in
// the spirit of pkg/network/hostport_pool.go's RWMutex-guarded pool map.
package registry

import (
	"sync"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/internal/domain"
	"github.com/ankitkpandey1/aetherless/internal/ring"
	"github.com/ankitkpandey1/aetherless/internal/shm"
	"github.com/ankitkpandey1/aetherless/internal/state"
)

// Config is the validated configuration a function was registered with;
// Record.UpdateConfig replaces it when a deploy changes it.
type Config struct {
	ID           domain.FunctionID
	MemoryLimit  domain.MemoryLimit
	TriggerPort  domain.Port
	HandlerPath  domain.HandlerPath
	Timeout      domain.Timeout
	Environment  domain.Environment
	WarmPoolSize int
}

// Record is a single function's registry entry: its config, its state
// machine, and the resources it currently owns. Each record is guarded by
// its own mutex; readers of Config/PID/SocketPath take the read path, the
// supervisor mutates under the write path.
type Record struct {
	mu          sync.RWMutex
	config      Config
	machine     *state.Machine
	pid         uint32
	socketPath  string
	snapshotDir string
	ringBuffer  *RingBuffer
}

// RingBuffer bundles a function's IPC ring buffer with the shared-memory
// region backing it, so the owner can close and unlink both together. This
// is the FunctionRecord.ring_buffer field: present only while the function
// is Running, created by the supervisor at activation time and released on
// deactivation.
type RingBuffer struct {
	Name   string
	Region *shm.Region
	Ring   *ring.Ring
}

// Close unmaps and unlinks the backing shared-memory region. Safe to call
// on a nil receiver.
func (b *RingBuffer) Close() error {
	if b == nil || b.Region == nil {
		return nil
	}
	return b.Region.Close()
}

func newRecord(cfg Config, socketPath string) *Record {
	return &Record{
		config:     cfg,
		machine:    state.New(cfg.ID.String()),
		socketPath: socketPath,
	}
}

func (r *Record) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

func (r *Record) State() state.FunctionState {
	return r.machine.State()
}

func (r *Record) Machine() *state.Machine {
	return r.machine
}

func (r *Record) PID() (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pid, r.pid != 0
}

func (r *Record) SetPID(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pid = pid
}

func (r *Record) SocketPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.socketPath
}

func (r *Record) SnapshotDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotDir
}

func (r *Record) SetSnapshotDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotDir = dir
}

// RingBuffer returns the function's currently active IPC ring buffer, if
// any. Nil outside the Running state.
func (r *Record) RingBuffer() *RingBuffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ringBuffer
}

func (r *Record) SetRingBuffer(rb *RingBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ringBuffer = rb
}

// TakeRingBuffer clears and returns the record's ring buffer in one step, so
// the caller can Close it outside the record's lock without a racing
// Activate installing a new one in between.
func (r *Record) TakeRingBuffer() *RingBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	rb := r.ringBuffer
	r.ringBuffer = nil
	return rb
}

func (r *Record) UpdateConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// Registry is the process-wide function map. The port-reservation section
// (register/unregister) is guarded by mu; record bodies are guarded
// independently so readers never block on each other.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	ports   map[uint16]string // port -> function id, checked under mu
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		ports:   make(map[uint16]string),
	}
}

// Register inserts a new record in Uninitialized, rejecting duplicate ids
// or ports under the same process-wide critical section.
func (reg *Registry) Register(cfg Config, socketPath string) (*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := cfg.ID.String()
	if _, exists := reg.records[id]; exists {
		return nil, &aethererr.DuplicateID{ID: id}
	}

	port := cfg.TriggerPort.Value()
	if existingID, taken := reg.ports[port]; taken {
		return nil, &aethererr.DuplicatePort{Port: port, ExistingID: existingID, RequestedID: id}
	}

	rec := newRecord(cfg, socketPath)
	reg.records[id] = rec
	reg.ports[port] = id
	return rec, nil
}

// Unregister transitions the record to Uninitialized and removes it. The
// caller is responsible for tearing down owned resources (process, snapshot,
// ring, routing entry) before calling this, per spec §3's lifecycle rule.
func (reg *Registry) Unregister(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.records[id]
	if !ok {
		return &aethererr.InvalidFieldValue{Field: "function_id", Value: id, Reason: "not registered"}
	}

	// Running has no direct edge to Uninitialized; it passes through Suspended.
	if rec.State() == state.Running {
		_ = rec.machine.TransitionTo(state.Suspended)
	}
	if rec.State() != state.Uninitialized {
		_ = rec.machine.TransitionTo(state.Uninitialized)
	}

	delete(reg.records, id)
	delete(reg.ports, rec.Config().TriggerPort.Value())
	return nil
}

func (reg *Registry) Get(id string) (*Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.records[id]
	return rec, ok
}

// List returns a point-in-time snapshot of all function ids.
func (reg *Registry) List() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]string, 0, len(reg.records))
	for id := range reg.records {
		ids = append(ids, id)
	}
	return ids
}

func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.records)
}

func (reg *Registry) Contains(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.records[id]
	return ok
}

// InState returns ids of every record currently in the given state. Takes a
// point-in-time snapshot; individual records may transition concurrently.
func (reg *Registry) InState(s state.FunctionState) []string {
	reg.mu.Lock()
	records := make([]*Record, 0, len(reg.records))
	ids := make([]string, 0, len(reg.records))
	for id, rec := range reg.records {
		records = append(records, rec)
		ids = append(ids, id)
	}
	reg.mu.Unlock()

	out := make([]string, 0, len(records))
	for i, rec := range records {
		if rec.State() == s {
			out = append(out, ids[i])
		}
	}
	return out
}
