package router

import (
	"fmt"

	"github.com/cilium/ebpf"
)

const (
	progName     = "xdp_redirect"
	modeMapName  = "router_mode_map"
	statsMapName = "router_stats_map"
)

// loadObjects reads the externally compiled BPF ELF at path and pulls out
// the program and maps this package drives. objectPath is produced by
// building bpf/xdp_redirect.c with clang -target bpf; nothing here invokes
// a C compiler.
func loadObjects(objectPath string) (*objects, error) {
	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, fmt.Errorf("loading collection spec from %s: %w", objectPath, err)
	}

	if m, ok := spec.Maps[portMapName]; ok {
		m.MaxEntries = mapCapacity
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("instantiating collection: %w", err)
	}

	prog, ok := coll.Programs[progName]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("program %q not found in %s", progName, objectPath)
	}

	portMap, ok := coll.Maps[portMapName]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("map %q not found in %s", portMapName, objectPath)
	}

	modeMap := coll.Maps[modeMapName]   // optional: absence just disables the mode seed
	statsMap := coll.Maps[statsMapName] // optional: absence just disables stats readback

	// Pin the program and maps beyond the collection's lifetime.
	prog, portMap, modeMap, statsMap = clone(prog), cloneMap(portMap), cloneMap(modeMap), cloneMap(statsMap)
	coll.Close()

	return &objects{prog: prog, m: portMap, mode: modeMap, stats: statsMap}, nil
}

// clone duplicates a program handle so it survives the owning Collection's
// Close, mirroring ebpf.Program.Clone's documented use for exactly this.
func clone(p *ebpf.Program) *ebpf.Program {
	if p == nil {
		return nil
	}
	dup, err := p.Clone()
	if err != nil {
		return p
	}
	return dup
}

func cloneMap(m *ebpf.Map) *ebpf.Map {
	if m == nil {
		return nil
	}
	dup, err := m.Clone()
	if err != nil {
		return m
	}
	return dup
}
