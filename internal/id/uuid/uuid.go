// Package uuid mints run identifiers. Run IDs are UUIDv7 so state history,
// logs and the run table sort by start time.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator satisfies scheduler.RunIDSource.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// NewRaw returns a fresh run ID in the binary form carried by progress events.
func (*Generator) NewRaw() ([16]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// String formats a binary run ID in canonical hyphenated form.
func String(raw [16]byte) string {
	return uuid.UUID(raw).String()
}
