// Package router loads and drives the kernel-bypass XDP port router (spec
// §4.I): an eBPF hash map keyed by trigger port, updated from userspace as
// functions activate and deactivate, read by an XDP program attached to a
// physical interface. A packet whose destination port has an entry is
// counted as matched and passed on to the normal network stack, where the
// handler's listening socket receives it; a packet for a port with no entry
// is passed in ModePermissive and dropped in ModeStrict.
// Grounded on other_examples/romshark-afxdp-bench-go's attachXDP/registerXSK
// pair for the cilium/ebpf load-and-attach sequence and map update calls.
package router

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/pkg/netiface"
)

// Mode controls what happens to a packet whose port has no map entry.
type Mode int

const (
	// ModePermissive passes unmatched traffic through to the normal
	// network stack (XDP_PASS).
	ModePermissive Mode = iota
	// ModeStrict drops unmatched trigger-port traffic (XDP_DROP), for
	// deployments that want the router to be the sole ingress path.
	ModeStrict
)

const (
	portMapName = "port_redirect_map"
	mapCapacity = 1024
)

// portKey mirrors the BPF program's struct port_key { u16 port; u16 pad; }.
// Field order and widths must stay bit-exact with bpf/xdp_redirect.c.
type portKey struct {
	Port    uint16
	Padding uint16
}

// portValue mirrors struct port_value { u32 pid; u32 addr_be; }.
type portValue struct {
	PID    uint32
	AddrBE uint32
}

// route is the userspace mirror of one map entry, kept so Routes and Lookup
// answer without round-tripping through the kernel map.
type route struct {
	pid    uint32
	addrBE uint32
}

// Router owns the attached XDP program and its backing map.
type Router struct {
	mode Mode

	objs *objects
	link link.Link

	mu     sync.RWMutex
	routes map[uint16]route
}

// objects groups the loaded BPF program and map so Close can tear both down
// together; populated by loadObjects (load.go) from the externally compiled
// ELF this package loads.
type objects struct {
	prog  *ebpf.Program
	m     *ebpf.Map
	mode  *ebpf.Map
	stats *ebpf.Map // optional: nil if the loaded object has no router_stats_map
}

func (o *objects) Close() error {
	var errs []error
	if o.m != nil {
		if err := o.m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.mode != nil {
		if err := o.mode.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.stats != nil {
		if err := o.stats.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.prog != nil {
		if err := o.prog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// seedMode writes the router's drop/pass policy for unmatched ports into
// the single-entry mode map, if the loaded object defines one. Programs
// built without a mode map always behave as ModePermissive.
func seedMode(m *ebpf.Map, mode Mode) error {
	if m == nil {
		return nil
	}
	var key uint32
	return m.Update(key, uint32(mode), ebpf.UpdateAny)
}

// Options configures Attach.
type Options struct {
	// Interface is the physical NIC name the XDP program attaches to.
	Interface string
	// ObjectPath is the path to the compiled BPF ELF object (see
	// bpf/xdp_redirect.c; built out-of-band, not by the Go toolchain).
	ObjectPath string
	Mode       Mode
	// DriverMode requests native/driver-mode XDP instead of generic mode.
	DriverMode bool
}

// Attach validates the target interface, loads the BPF object, and attaches
// its XDP program. The returned Router owns the program and map until
// Close is called.
func Attach(opts Options) (*Router, error) {
	iface, err := netiface.Resolve(opts.Interface)
	if err != nil {
		return nil, &aethererr.AttachFailed{Interface: opts.Interface, Reason: err.Error()}
	}

	objs, err := loadObjects(opts.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aethererr.ErrLoadFailed, err)
	}

	linkOpts := link.XDPOptions{
		Program:   objs.prog,
		Interface: iface.Index,
	}
	if opts.DriverMode {
		linkOpts.Flags = link.XDPDriverMode
	}

	l, err := link.AttachXDP(linkOpts)
	if err != nil {
		objs.Close()
		return nil, &aethererr.AttachFailed{Interface: opts.Interface, Reason: err.Error()}
	}

	if err := seedMode(objs.mode, opts.Mode); err != nil {
		l.Close()
		objs.Close()
		return nil, fmt.Errorf("%w: %v", aethererr.ErrMapUpdateFailed, err)
	}

	return &Router{
		mode:   opts.Mode,
		objs:   objs,
		link:   l,
		routes: make(map[uint16]route),
	}, nil
}

// RegisterPort publishes a routing entry mapping port to pid and addr, so
// the XDP program counts its trigger traffic as matched and passes it.
// Satisfies supervisor.RoutingPublisher.
func (r *Router) RegisterPort(port uint16, pid uint32, addr uint32) error {
	key := portKey{Port: port}
	val := portValue{PID: pid, AddrBE: addr}

	if err := r.objs.m.Update(key, val, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("%w: port %d: %v", aethererr.ErrMapUpdateFailed, port, err)
	}

	r.mu.Lock()
	r.routes[port] = route{pid: pid, addrBE: addr}
	r.mu.Unlock()
	return nil
}

// UnregisterPort withdraws port's routing entry. Idempotent: unregistering
// a port with no entry is not an error, since shutdown paths call this
// defensively.
func (r *Router) UnregisterPort(port uint16) error {
	key := portKey{Port: port}
	if err := r.objs.m.Delete(key); err != nil && !isKeyNotExist(err) {
		return fmt.Errorf("%w: port %d: %v", aethererr.ErrMapUpdateFailed, port, err)
	}

	r.mu.Lock()
	delete(r.routes, port)
	r.mu.Unlock()
	return nil
}

// Routes returns a point-in-time snapshot of every published route.
func (r *Router) Routes() map[uint16]uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint16]uint32, len(r.routes))
	for port, rt := range r.routes {
		out[port] = rt.pid
	}
	return out
}

// Lookup returns port's routing entry from the userspace mirror, without a
// kernel map round-trip. Satisfies spec §4.I's lookup operation.
func (r *Router) Lookup(port uint16) (pid uint32, addrBE uint32, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[port]
	return rt.pid, rt.addrBE, ok
}

// Statistic indices into router_stats_map; must stay bit-exact with
// bpf/xdp_redirect.c's STAT_* defines.
const (
	statTotal uint32 = iota
	statMatched
	statPassed
	statDropped
)

// PacketStats is a cumulative read of the kernel-side per-CPU counters.
type PacketStats struct {
	Total   uint64
	Matched uint64
	Passed  uint64
	Dropped uint64
}

// Stats reads and sums router_stats_map's per-CPU counters. Returns the
// zero value with no error if the loaded object has no stats map (older
// builds of bpf/xdp_redirect.c).
func (r *Router) Stats() (PacketStats, error) {
	if r.objs.stats == nil {
		return PacketStats{}, nil
	}
	total, err := r.readStat(statTotal)
	if err != nil {
		return PacketStats{}, err
	}
	matched, err := r.readStat(statMatched)
	if err != nil {
		return PacketStats{}, err
	}
	passed, err := r.readStat(statPassed)
	if err != nil {
		return PacketStats{}, err
	}
	dropped, err := r.readStat(statDropped)
	if err != nil {
		return PacketStats{}, err
	}
	return PacketStats{Total: total, Matched: matched, Passed: passed, Dropped: dropped}, nil
}

// readStat sums one per-CPU array slot across every CPU. cilium/ebpf expands
// a PERCPU_ARRAY lookup into one value per CPU when the destination is a
// slice.
func (r *Router) readStat(key uint32) (uint64, error) {
	var perCPU []uint64
	if err := r.objs.stats.Lookup(key, &perCPU); err != nil {
		return 0, fmt.Errorf("%w: reading router_stats_map[%d]: %v", aethererr.ErrMapNotFound, key, err)
	}
	var sum uint64
	for _, v := range perCPU {
		sum += v
	}
	return sum, nil
}

// Close detaches the XDP program and releases the map.
func (r *Router) Close() error {
	var errs []error
	if err := r.link.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.objs.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isKeyNotExist(err error) bool {
	return errors.Is(err, ebpf.ErrKeyNotExist)
}

func sizeofPortKey() uintptr   { return unsafe.Sizeof(portKey{}) }
func sizeofPortValue() uintptr { return unsafe.Sizeof(portValue{}) }
