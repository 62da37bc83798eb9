// Package domain holds validated newtypes for orchestrator inputs, following
// the same "validate at construction" style as internal/vm/types.go: plain
// structs with a constructor that checks invariants and returns an error
// instead of a zero value.
package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ankitkpandey1/aetherless/internal/aethererr"
)

const (
	minMemoryLimitMB = 1
	maxMemoryLimitMB = 16384

	minTimeoutMS = 1
	maxTimeoutMS = 900000
)

var functionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
var envKeyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// FunctionID is a validated function identifier: [a-zA-Z0-9_-]{1,64}.
type FunctionID struct {
	value string
}

func NewFunctionID(id string) (FunctionID, error) {
	if !functionIDPattern.MatchString(id) {
		return FunctionID{}, &aethererr.InvalidFieldValue{Field: "function_id", Value: id, Reason: "must match [a-zA-Z0-9_-]{1,64}"}
	}
	return FunctionID{value: id}, nil
}

func (f FunctionID) String() string { return f.value }

// Port is a validated network port, 1..=65535 (0 is reserved).
type Port struct {
	value uint16
}

func NewPort(port uint16) (Port, error) {
	if port == 0 {
		return Port{}, &aethererr.InvalidFieldValue{Field: "port", Value: "0", Reason: "port 0 is reserved and cannot be used"}
	}
	return Port{value: port}, nil
}

func (p Port) Value() uint16 { return p.value }

// MemoryLimit is a validated memory limit in MiB, 1..=16384.
type MemoryLimit struct {
	mb uint64
}

func NewMemoryLimitMB(mb uint64) (MemoryLimit, error) {
	if mb < minMemoryLimitMB || mb > maxMemoryLimitMB {
		return MemoryLimit{}, &aethererr.InvalidFieldValue{
			Field:  "memory_limit_mb",
			Value:  fmt.Sprintf("%d", mb),
			Reason: fmt.Sprintf("must be between %d and %d MiB", minMemoryLimitMB, maxMemoryLimitMB),
		}
	}
	return MemoryLimit{mb: mb}, nil
}

func (m MemoryLimit) MB() uint64    { return m.mb }
func (m MemoryLimit) Bytes() uint64 { return m.mb * 1024 * 1024 }

// Timeout is a validated timeout in milliseconds, 1..=900000.
type Timeout struct {
	ms uint64
}

func NewTimeoutMS(ms uint64) (Timeout, error) {
	if ms < minTimeoutMS || ms > maxTimeoutMS {
		return Timeout{}, &aethererr.InvalidFieldValue{
			Field:  "timeout_ms",
			Value:  fmt.Sprintf("%d", ms),
			Reason: fmt.Sprintf("must be between %d and %d ms", minTimeoutMS, maxTimeoutMS),
		}
	}
	return Timeout{ms: ms}, nil
}

func (t Timeout) MS() uint64 { return t.ms }

// HandlerPath is a validated absolute filesystem path that must exist and be
// executable at registration time.
type HandlerPath struct {
	path string
}

func NewHandlerPath(path string) (HandlerPath, error) {
	if !filepath.IsAbs(path) {
		return HandlerPath{}, &aethererr.InvalidFieldValue{Field: "handler_path", Value: path, Reason: "must be an absolute path"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return HandlerPath{}, &aethererr.InvalidFieldValue{Field: "handler_path", Value: path, Reason: "does not exist"}
	}
	if info.Mode()&0o111 == 0 {
		return HandlerPath{}, &aethererr.InvalidFieldValue{Field: "handler_path", Value: path, Reason: "not executable"}
	}
	return HandlerPath{path: path}, nil
}

// NewHandlerPathUnchecked skips the filesystem check, for tests and
// already-validated paths read back from persisted state.
func NewHandlerPathUnchecked(path string) HandlerPath {
	return HandlerPath{path: path}
}

func (h HandlerPath) Path() string { return h.path }

// ProcessID is a validated, nonzero process id.
type ProcessID struct {
	value uint32
}

func NewProcessID(pid uint32) (ProcessID, error) {
	if pid == 0 {
		return ProcessID{}, &aethererr.InvalidFieldValue{Field: "process_id", Value: "0", Reason: "process id 0 is reserved"}
	}
	return ProcessID{value: pid}, nil
}

func (p ProcessID) Value() uint32 { return p.value }

// Environment is a validated mapping of uppercase-snake keys to values.
type Environment map[string]string

func NewEnvironment(raw map[string]string) (Environment, error) {
	env := make(Environment, len(raw))
	for k, v := range raw {
		if !envKeyPattern.MatchString(k) {
			return nil, &aethererr.InvalidFieldValue{Field: "environment key", Value: k, Reason: "must match [A-Z_][A-Z0-9_]*"}
		}
		env[k] = v
	}
	return env, nil
}
