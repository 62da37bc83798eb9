package config

import "testing"

const validYAML = `
orchestrator:
  shm_buffer_size: 4194304
  warm_pool_size: 5
  restore_timeout_ms: 15
  snapshot_dir: /dev/shm/aetherless

functions:
  - id: hello
    memory_limit_mb: 128
    trigger_port: 8080
    handler_path: /bin/true
    timeout_ms: 30000
    environment:
      LOG_LEVEL: debug
`

func TestValidConfig(t *testing.T) {
	cfg, err := LoadString(validYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Functions))
	}
	if cfg.Functions[0].ID.String() != "hello" {
		t.Fatalf("unexpected function id: %s", cfg.Functions[0].ID)
	}
	if cfg.Orchestrator.WarmPoolSize != 5 {
		t.Fatalf("unexpected warm pool size: %d", cfg.Orchestrator.WarmPoolSize)
	}
}

func TestMissingFunctionsIsError(t *testing.T) {
	_, err := LoadString(`functions: []`)
	if err == nil {
		t.Fatalf("expected error for empty functions list")
	}
}

func TestInvalidFunctionID(t *testing.T) {
	_, err := LoadString(`
functions:
  - id: "bad id with spaces"
    memory_limit_mb: 128
    trigger_port: 8080
    handler_path: /bin/true
`)
	if err == nil {
		t.Fatalf("expected error for invalid function id")
	}
}

func TestInvalidPortZero(t *testing.T) {
	_, err := LoadString(`
functions:
  - id: hello
    memory_limit_mb: 128
    trigger_port: 0
    handler_path: /bin/true
`)
	if err == nil {
		t.Fatalf("expected error for port 0")
	}
}

func TestDuplicatePorts(t *testing.T) {
	_, err := LoadString(`
functions:
  - id: a
    memory_limit_mb: 128
    trigger_port: 9000
    handler_path: /bin/true
  - id: b
    memory_limit_mb: 128
    trigger_port: 9000
    handler_path: /bin/true
`)
	if err == nil {
		t.Fatalf("expected error for duplicate ports")
	}
}

func TestDuplicateIDs(t *testing.T) {
	_, err := LoadString(`
functions:
  - id: a
    memory_limit_mb: 128
    trigger_port: 9000
    handler_path: /bin/true
  - id: a
    memory_limit_mb: 128
    trigger_port: 9001
    handler_path: /bin/true
`)
	if err == nil {
		t.Fatalf("expected error for duplicate ids")
	}
}

func TestInvalidMemoryLimit(t *testing.T) {
	_, err := LoadString(`
functions:
  - id: a
    memory_limit_mb: 0
    trigger_port: 9000
    handler_path: /bin/true
`)
	if err == nil {
		t.Fatalf("expected error for memory limit 0")
	}
}

func TestRestoreTimeoutTooHigh(t *testing.T) {
	_, err := LoadString(`
orchestrator:
  restore_timeout_ms: 101
functions:
  - id: a
    memory_limit_mb: 128
    trigger_port: 9000
    handler_path: /bin/true
`)
	if err == nil {
		t.Fatalf("expected error for restore_timeout_ms over 100")
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := LoadString(`
functions:
  - id: a
    memory_limit_mb: 128
    trigger_port: 9000
    handler_path: /bin/true
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Orchestrator.WarmPoolSize != defaultWarmPoolSize {
		t.Fatalf("expected default warm pool size %d, got %d", defaultWarmPoolSize, cfg.Orchestrator.WarmPoolSize)
	}
	if cfg.Orchestrator.RestoreTimeoutMS != defaultRestoreTimeoutMS {
		t.Fatalf("expected default restore timeout %d, got %d", defaultRestoreTimeoutMS, cfg.Orchestrator.RestoreTimeoutMS)
	}
	if cfg.Functions[0].Timeout.MS() != defaultTimeoutMS {
		t.Fatalf("expected default timeout %d, got %d", defaultTimeoutMS, cfg.Functions[0].Timeout.MS())
	}
}

func TestWarmPoolSizeZeroIsValid(t *testing.T) {
	// spec.md's range is 0-1000 (unlike original_source's 1-1000): 0 means
	// "no warm pool" and must be accepted.
	cfg, err := LoadString(`
orchestrator:
  warm_pool_size: 0
functions:
  - id: a
    memory_limit_mb: 128
    trigger_port: 9000
    handler_path: /bin/true
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Orchestrator.WarmPoolSize != 0 {
		t.Fatalf("expected warm pool size 0, got %d", cfg.Orchestrator.WarmPoolSize)
	}
}
