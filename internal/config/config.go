// Package config loads and validates the orchestrator's YAML configuration
// file (spec §6). It follows original_source/aetherless-core/src/config.rs's
// two-phase design: unmarshal into raw, serde-default-style structs, then
// validate every field into the closed domain types, accumulating duplicate
// id/port detection in the same pass.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
	"github.com/ankitkpandey1/aetherless/internal/domain"
)

const (
	defaultTimeoutMS        = 30000
	defaultShmBufferSize    = 4 * 1024 * 1024
	defaultWarmPoolSize     = 10
	defaultRestoreTimeoutMS = 15
	defaultSnapshotDir      = "/dev/shm/aetherless"

	minShmBufferSize = 64 * 1024
	maxShmBufferSize = 1024 * 1024 * 1024

	// spec §6 states warm_pool_size range is 0-1000; original_source's range
	// is 1-1000. spec.md is authoritative: 0 means "no warm pool" and is valid.
	maxWarmPoolSize = 1000

	maxRestoreTimeoutMS = 100
)

type rawFunction struct {
	ID            string            `yaml:"id"`
	MemoryLimitMB uint64            `yaml:"memory_limit_mb"`
	TriggerPort   uint16            `yaml:"trigger_port"`
	HandlerPath   string            `yaml:"handler_path"`
	Environment   map[string]string `yaml:"environment"`
	TimeoutMS     uint64            `yaml:"timeout_ms"`
}

type rawOrchestrator struct {
	ShmBufferSize    *int    `yaml:"shm_buffer_size"`
	WarmPoolSize     *int    `yaml:"warm_pool_size"`
	RestoreTimeoutMS *uint64 `yaml:"restore_timeout_ms"`
	SnapshotDir      *string `yaml:"snapshot_dir"`
}

type rawRoot struct {
	Orchestrator rawOrchestrator `yaml:"orchestrator"`
	Functions    []rawFunction   `yaml:"functions"`
}

// FunctionConfig is a fully validated function entry.
type FunctionConfig struct {
	ID          domain.FunctionID
	MemoryLimit domain.MemoryLimit
	TriggerPort domain.Port
	HandlerPath string // existence/executable bit checked at registration, not load time
	Environment domain.Environment
	Timeout     domain.Timeout
}

// OrchestratorConfig is the validated top-level orchestrator section.
type OrchestratorConfig struct {
	ShmBufferSize    int
	WarmPoolSize     int
	RestoreTimeoutMS uint64
	SnapshotDir      string
}

// Config is the complete validated configuration file.
type Config struct {
	Orchestrator OrchestratorConfig
	Functions    []FunctionConfig
}

// LoadFile reads and validates a YAML config file from disk.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: config file not found: %s", aethererr.ErrHardValidation, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return LoadString(string(content))
}

// LoadString parses and validates a YAML config document.
func LoadString(content string) (*Config, error) {
	var raw rawRoot
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: YAML parse error: %v", aethererr.ErrHardValidation, err)
	}
	return validate(raw)
}

func validate(raw rawRoot) (*Config, error) {
	orchestrator, err := validateOrchestrator(raw.Orchestrator)
	if err != nil {
		return nil, err
	}

	functions := make([]FunctionConfig, 0, len(raw.Functions))
	seenIDs := make(map[string]bool, len(raw.Functions))
	seenPorts := make(map[uint16]string, len(raw.Functions)) // port -> id that claimed it

	for i, rf := range raw.Functions {
		fn, err := validateFunction(rf)
		if err != nil {
			return nil, fmt.Errorf("function at index %d: %w", i, err)
		}

		id := fn.ID.String()
		if seenIDs[id] {
			return nil, fmt.Errorf("%w", &aethererr.DuplicateID{ID: id})
		}
		seenIDs[id] = true

		port := fn.TriggerPort.Value()
		if existingID, taken := seenPorts[port]; taken {
			return nil, fmt.Errorf("%w", &aethererr.DuplicatePort{Port: port, ExistingID: existingID, RequestedID: id})
		}
		seenPorts[port] = id

		functions = append(functions, fn)
	}

	if len(functions) == 0 {
		return nil, fmt.Errorf("%w: at least one function must be defined", aethererr.ErrHardValidation)
	}

	return &Config{Orchestrator: orchestrator, Functions: functions}, nil
}

func validateOrchestrator(raw rawOrchestrator) (OrchestratorConfig, error) {
	shmSize := defaultShmBufferSize
	if raw.ShmBufferSize != nil {
		shmSize = *raw.ShmBufferSize
	}
	if shmSize < minShmBufferSize || shmSize > maxShmBufferSize {
		return OrchestratorConfig{}, &aethererr.InvalidFieldValue{
			Field:  "shm_buffer_size",
			Value:  fmt.Sprintf("%d", shmSize),
			Reason: fmt.Sprintf("must be between %d and %d bytes", minShmBufferSize, maxShmBufferSize),
		}
	}
	if !isPowerOfTwo(uint64(shmSize)) {
		return OrchestratorConfig{}, &aethererr.InvalidFieldValue{
			Field:  "shm_buffer_size",
			Value:  fmt.Sprintf("%d", shmSize),
			Reason: "must be a power of two, since it is the ring buffer's data capacity",
		}
	}

	warmPoolSize := defaultWarmPoolSize
	if raw.WarmPoolSize != nil {
		warmPoolSize = *raw.WarmPoolSize
	}
	if warmPoolSize < 0 || warmPoolSize > maxWarmPoolSize {
		return OrchestratorConfig{}, &aethererr.InvalidFieldValue{
			Field:  "warm_pool_size",
			Value:  fmt.Sprintf("%d", warmPoolSize),
			Reason: fmt.Sprintf("must be between 0 and %d", maxWarmPoolSize),
		}
	}

	restoreTimeout := uint64(defaultRestoreTimeoutMS)
	if raw.RestoreTimeoutMS != nil {
		restoreTimeout = *raw.RestoreTimeoutMS
	}
	if restoreTimeout < 1 || restoreTimeout > maxRestoreTimeoutMS {
		return OrchestratorConfig{}, &aethererr.InvalidFieldValue{
			Field:  "restore_timeout_ms",
			Value:  fmt.Sprintf("%d", restoreTimeout),
			Reason: fmt.Sprintf("must not exceed %dms for latency requirements", maxRestoreTimeoutMS),
		}
	}

	snapshotDir := defaultSnapshotDir
	if raw.SnapshotDir != nil {
		snapshotDir = *raw.SnapshotDir
	}

	return OrchestratorConfig{
		ShmBufferSize:    shmSize,
		WarmPoolSize:     warmPoolSize,
		RestoreTimeoutMS: restoreTimeout,
		SnapshotDir:      filepath.Clean(snapshotDir),
	}, nil
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func validateFunction(raw rawFunction) (FunctionConfig, error) {
	id, err := domain.NewFunctionID(raw.ID)
	if err != nil {
		return FunctionConfig{}, err
	}

	mem, err := domain.NewMemoryLimitMB(raw.MemoryLimitMB)
	if err != nil {
		return FunctionConfig{}, err
	}

	port, err := domain.NewPort(raw.TriggerPort)
	if err != nil {
		return FunctionConfig{}, err
	}

	timeoutMS := uint64(defaultTimeoutMS)
	if raw.TimeoutMS != 0 {
		timeoutMS = raw.TimeoutMS
	}
	timeout, err := domain.NewTimeoutMS(timeoutMS)
	if err != nil {
		return FunctionConfig{}, err
	}

	env, err := domain.NewEnvironment(raw.Environment)
	if err != nil {
		return FunctionConfig{}, err
	}

	return FunctionConfig{
		ID:          id,
		MemoryLimit: mem,
		TriggerPort: port,
		HandlerPath: raw.HandlerPath,
		Environment: env,
		Timeout:     timeout,
	}, nil
}
