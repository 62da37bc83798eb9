package registry

import (
	"sync"
	"testing"

	"github.com/ankitkpandey1/aetherless/internal/domain"
	"github.com/ankitkpandey1/aetherless/internal/state"
)

func makeConfig(t *testing.T, id string, port uint16) Config {
	t.Helper()
	fid, err := domain.NewFunctionID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := domain.NewPort(port)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mem, _ := domain.NewMemoryLimitMB(128)
	timeout, _ := domain.NewTimeoutMS(30000)
	return Config{
		ID:          fid,
		MemoryLimit: mem,
		TriggerPort: p,
		HandlerPath: domain.NewHandlerPathUnchecked("/bin/true"),
		Timeout:     timeout,
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := New()
	cfg := makeConfig(t, "hello", 8080)

	rec, err := reg.Register(cfg, "/tmp/hello.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State() != state.Uninitialized {
		t.Fatalf("expected Uninitialized, got %v", rec.State())
	}

	got, ok := reg.Get("hello")
	if !ok || got != rec {
		t.Fatalf("expected to get back the same record")
	}
}

func TestDuplicateID(t *testing.T) {
	reg := New()
	cfg := makeConfig(t, "hello", 8080)
	if _, err := reg.Register(cfg, "/tmp/hello.sock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Register(makeConfig(t, "hello", 8081), "/tmp/hello2.sock"); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestDuplicatePort(t *testing.T) {
	reg := New()
	if _, err := reg.Register(makeConfig(t, "a", 9000), "/tmp/a.sock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Register(makeConfig(t, "b", 9000), "/tmp/b.sock"); err == nil {
		t.Fatalf("expected duplicate port error")
	}
}

func TestUnregisterRoundTrip(t *testing.T) {
	reg := New()
	cfg := makeConfig(t, "hello", 8080)
	if _, err := reg.Register(cfg, "/tmp/hello.sock"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := reg.Count()
	if err := reg.Unregister("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Count() != before-1 {
		t.Fatalf("expected count to drop by one")
	}
	if reg.Contains("hello") {
		t.Fatalf("expected hello to be gone")
	}
	// port must be free again
	if _, err := reg.Register(makeConfig(t, "hello2", 8080), "/tmp/hello2.sock"); err != nil {
		t.Fatalf("expected port 8080 to be free after unregister: %v", err)
	}
}

func TestFunctionsInState(t *testing.T) {
	reg := New()
	rec, err := reg.Register(makeConfig(t, "hello", 8080), "/tmp/hello.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.Machine().TransitionTo(state.Running); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := reg.InState(state.Running)
	if len(ids) != 1 || ids[0] != "hello" {
		t.Fatalf("expected [hello] in Running, got %v", ids)
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "fn"
			_, _ = reg.Register(makeConfig(t, id, uint16(1000+n)), "/tmp/x.sock")
		}(i)
	}
	wg.Wait()
	if reg.Count() != 1 {
		t.Fatalf("expected exactly one record to win the id race, got %d", reg.Count())
	}
}
