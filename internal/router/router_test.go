package router

import "testing"

func TestPortKeySize(t *testing.T) {
	// Must stay 4 bytes to match bpf/xdp_redirect.c's struct port_key.
	var k portKey
	if got := sizeofPortKey(); got != 4 {
		t.Fatalf("portKey size = %d, want 4", got)
	}
	_ = k
}

func TestPortValueSize(t *testing.T) {
	// Must stay 8 bytes to match bpf/xdp_redirect.c's struct port_value.
	if got := sizeofPortValue(); got != 8 {
		t.Fatalf("portValue size = %d, want 8", got)
	}
}

func TestRoutesSnapshotIsIndependentOfInternalMap(t *testing.T) {
	r := &Router{routes: map[uint16]route{8080: {pid: 42, addrBE: 0x0100007f}}}
	snap := r.Routes()
	if snap[8080] != 42 {
		t.Fatalf("expected pid 42 for port 8080, got %d", snap[8080])
	}
	snap[8080] = 999
	if r.routes[8080].pid != 42 {
		t.Fatalf("mutating the snapshot must not affect the router's internal map")
	}
}
