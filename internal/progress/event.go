package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageDomainStart Stage = "DOMAIN_START"
	StageDomainDone  Stage = "DOMAIN_DONE"
	StageDomainError Stage = "DOMAIN_ERROR"
	StageSeedFetched Stage = "SEED_FETCHED"
	StageDiscovery   Stage = "DISCOVERY_DONE"
	StageHiddenScan  Stage = "HIDDEN_SCAN_DONE"
	StageEnrich      Stage = "ENRICH_DONE"
	StageNotify      Stage = "NOTIFY"
)

// Terminal reports whether the stage closes a domain crawl or the run. The
// hub delivers terminal events without waiting for a fuller batch.
func (s Stage) Terminal() bool {
	switch s {
	case StageDomainDone, StageDomainError, StageRunDone:
		return true
	}
	return false
}

// Event captures one crawl milestone.
type Event struct {
	// RunID identifies one monitor pass using the 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Domain scopes domain and stage events.
	Domain string
	URL    string
	// Products is the product count after the stage.
	Products int
	// Pages counts fetched pages, or probes for the hidden scan.
	Pages int
	Dur   time.Duration
	// Note carries the stop reason, error text or notification kind.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageDomainStart, StageDomainDone, StageDomainError, StageSeedFetched,
		StageDiscovery, StageHiddenScan, StageEnrich, StageNotify:
		if e.Domain == "" {
			return fmt.Errorf("%s requires domain", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Products < 0 || e.Pages < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
