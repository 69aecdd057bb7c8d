// Package state loads and saves the persisted monitor document as one
// schema-versioned JSON file.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// ErrSchemaMismatch marks a document written under another schema version.
var ErrSchemaMismatch = errors.New("state schema mismatch")

// retiredDomains are placeholder domains that must never be monitored.
var retiredDomains = []string{"example.com"}

// Store reads and writes the state document at one path. Callers must not
// run two reconciliation passes over the same path concurrently.
type Store struct {
	path   string
	clock  monitor.Clock
	logger *zap.Logger
}

// New creates a Store for path.
func New(path string, clock monitor.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, clock: clock, logger: logger.Named("state")}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored document. It never fails: a missing or corrupt
// file yields an empty document and a foreign schema version keeps only the
// product and domain tables.
func (s *Store) Load(_ context.Context) monitor.State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("state unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return s.empty()
	}
	st, err := Decode(data)
	switch {
	case errors.Is(err, ErrSchemaMismatch):
		s.logger.Warn("state schema migrated", zap.String("path", s.path), zap.Error(err))
	case err != nil:
		s.logger.Warn("state corrupt, starting empty", zap.String("path", s.path), zap.Error(err))
		return s.empty()
	}
	s.logger.Debug("state loaded", zap.Int("products", len(st.Products)), zap.Int("domains", len(st.Domains)))
	return st
}

func (s *Store) empty() monitor.State {
	st := monitor.NewState()
	now := monitor.Timestamp(s.clock.Now())
	st.UpdatedAt = now
	st.LastRun = monitor.RunWindow{StartedAt: now, FinishedAt: now}
	return st
}

// Save writes st through a temporary file and an atomic rename.
func (s *Store) Save(_ context.Context, st monitor.State) error {
	st.SchemaVersion = monitor.SchemaVersion
	st.UpdatedAt = monitor.Timestamp(s.clock.Now())
	data, err := Encode(st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	s.logger.Info("state saved", zap.String("path", s.path), zap.Int("products", len(st.Products)))
	return nil
}

// Encode renders st as indented JSON with a trailing newline. Map keys are
// sorted; specs keep their insertion order.
func Encode(st monitor.State) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// legacyProduct accepts the older "option" spelling of a single location.
type legacyProduct struct {
	monitor.ProductState
	Option string `json:"option"`
}

type document struct {
	SchemaVersion int                            `json:"schema_version"`
	UpdatedAt     string                         `json:"updated_at"`
	Products      map[string]legacyProduct       `json:"products"`
	Domains       map[string]monitor.DomainState `json:"domains"`
	LastRun       monitor.RunWindow              `json:"last_run"`
}

// Decode parses and migrates a stored document. A foreign schema version
// returns the salvaged tables together with ErrSchemaMismatch.
func Decode(data []byte) (monitor.State, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return monitor.State{}, fmt.Errorf("decode state: %w", err)
	}
	st := monitor.NewState()
	for id, rec := range doc.Products {
		st.Products[id] = migrateProduct(rec)
	}
	for d, ds := range doc.Domains {
		st.Domains[d] = ds
	}
	dropRetired(&st)
	if doc.SchemaVersion != monitor.SchemaVersion {
		return st, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, doc.SchemaVersion, monitor.SchemaVersion)
	}
	st.UpdatedAt = doc.UpdatedAt
	st.LastRun = doc.LastRun
	return st, nil
}

// migrateProduct builds locations and location links from the single
// location field of older records.
func migrateProduct(rec legacyProduct) monitor.ProductState {
	out := rec.ProductState
	loc := strings.TrimSpace(out.Location)
	if loc == "" {
		loc = strings.TrimSpace(rec.Option)
	}
	var cleaned []string
	for _, l := range out.Locations {
		if l = strings.TrimSpace(l); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	switch {
	case len(cleaned) > 0:
		out.Locations = cleaned
		if out.Location == "" {
			out.Location = cleaned[0]
		}
	case loc != "":
		out.Locations = []string{loc}
		out.Location = loc
	default:
		out.Locations = nil
	}
	if len(out.LocationLinks) == 0 {
		out.LocationLinks = nil
		if out.URL != "" && len(out.Locations) > 0 {
			out.LocationLinks = map[string]string{out.Locations[0]: out.URL}
		}
	}
	return out
}

func dropRetired(st *monitor.State) {
	for _, d := range retiredDomains {
		delete(st.Domains, d)
		for id, rec := range st.Products {
			if rec.Domain == d {
				delete(st.Products, id)
			}
		}
	}
}
