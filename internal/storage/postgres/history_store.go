// Package postgres records run history in Postgres: one row per domain run
// and one row per notification attempt.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// HistoryStoreConfig controls the Postgres connection pool and table names.
type HistoryStoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RunsTable       string        `mapstructure:"runs_table"`
	EventsTable     string        `mapstructure:"events_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// HistoryStore writes run and event rows into Postgres.
type HistoryStore struct {
	pool        execCloser
	runsTable   string
	eventsTable string
}

// NewHistoryStore creates a Postgres-backed HistoryStore using the provided config.
func NewHistoryStore(ctx context.Context, cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	runs, events, err := tableNames(cfg.RunsTable, cfg.EventsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: pool, runsTable: runs, eventsTable: events}, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewHistoryStoreWithPool(pool execCloser, runsTable, eventsTable string) (*HistoryStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	runs, events, err := tableNames(runsTable, eventsTable)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{pool: pool, runsTable: runs, eventsTable: events}, nil
}

func tableNames(runs, events string) (string, string, error) {
	if runs == "" {
		runs = "domain_runs"
	}
	if events == "" {
		events = "stock_events"
	}
	for _, table := range []string{runs, events} {
		if !validTableName.MatchString(table) {
			return "", "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return runs, events, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history tables when they are missing.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id text NOT NULL,
	domain text NOT NULL,
	started_at timestamptz NOT NULL,
	ok boolean NOT NULL,
	error text NOT NULL DEFAULT '',
	duration_ms bigint NOT NULL,
	product_count integer NOT NULL,
	in_stock_count integer NOT NULL,
	complete boolean NOT NULL,
	discovery_stop_reason text NOT NULL DEFAULT '',
	hidden_probes integer NOT NULL DEFAULT 0,
	meta jsonb NOT NULL,
	PRIMARY KEY (run_id, domain)
)`, s.runsTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id text NOT NULL,
	kind text NOT NULL,
	domain text NOT NULL,
	product_id text NOT NULL,
	product_name text NOT NULL,
	url text NOT NULL,
	price text NOT NULL DEFAULT '',
	delivered boolean NOT NULL,
	at timestamptz NOT NULL,
	product jsonb NOT NULL
)`, s.eventsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RecordRun inserts one domain run row.
func (s *HistoryStore) RecordRun(ctx context.Context, runID string, startedAt time.Time, run monitor.DomainRun) error {
	if s == nil || s.pool == nil {
		return errors.New("history store is not configured")
	}
	if runID == "" {
		return errors.New("run id is required")
	}
	metaJSON, err := json.Marshal(run.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	inStock := 0
	for _, p := range run.Products {
		if p.Available == monitor.InStock {
			inStock++
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	domain,
	started_at,
	ok,
	error,
	duration_ms,
	product_count,
	in_stock_count,
	complete,
	discovery_stop_reason,
	hidden_probes,
	meta
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.runsTable)

	args := []any{
		runID,
		run.Domain,
		startedAt.UTC(),
		run.OK,
		run.Error,
		run.DurationMS,
		len(run.Products),
		inStock,
		run.Meta.Complete(),
		string(run.Meta.DiscoveryStopReason),
		run.Meta.HiddenProbes,
		metaJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert domain run: %w", err)
	}
	return nil
}

// RecordEvent inserts one notification attempt.
func (s *HistoryStore) RecordEvent(ctx context.Context, runID string, evt monitor.Event, delivered bool) error {
	if s == nil || s.pool == nil {
		return errors.New("history store is not configured")
	}
	productJSON, err := json.Marshal(evt.Product)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	kind,
	domain,
	product_id,
	product_name,
	url,
	price,
	delivered,
	at,
	product
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.eventsTable)

	args := []any{
		runID,
		string(evt.Kind),
		evt.Domain,
		evt.Product.ID,
		evt.Product.Name,
		evt.Product.URL,
		evt.Product.Price,
		delivered,
		evt.At.UTC(),
		productJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventRecorder binds a run id so the store can observe reconciler events.
type EventRecorder struct {
	Store  *HistoryStore
	RunID  string
	OnFail func(error)
}

// ObserveEvent implements reconcile.EventObserver.
func (r EventRecorder) ObserveEvent(ctx context.Context, evt monitor.Event, delivered bool) {
	if err := r.Store.RecordEvent(ctx, r.RunID, evt, delivered); err != nil && r.OnFail != nil {
		r.OnFail(err)
	}
}
