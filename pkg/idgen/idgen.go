// Package idgen generates UUIDv7 names for the resources a function
// activation owns: a shared-memory ring buffer region today, following the
// same uuid.NewV7 + prefix pattern as cmd/walk-builder/main.go's app ids.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// RingBufferName returns a unique /dev/shm region name for functionID's
// ring buffer instance. The function id is embedded for operators grepping
// /dev/shm; the UUIDv7 suffix disambiguates across restarts, since a
// function's old region may still be unlinking when a new one is created.
func RingBufferName(functionID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating ring buffer id for %s: %w", functionID, err)
	}
	return fmt.Sprintf("aetherless-ring-%s-%s", functionID, id.String()), nil
}
