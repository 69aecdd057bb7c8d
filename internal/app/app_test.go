package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/api"
	"github.com/JakeFAU/vps-stock-monitor/internal/config"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/runlock"
	"github.com/JakeFAU/vps-stock-monitor/internal/state"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/local"
	"github.com/JakeFAU/vps-stock-monitor/internal/storage/memory"
)

const target = "https://shop.example/"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var clk = fixedClock{now: time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)}

// downFetcher fails every request like an origin returning 503.
type downFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *downFetcher) Fetch(_ context.Context, rawURL string) monitor.FetchResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return monitor.FetchResult{URL: rawURL, FinalURL: rawURL, StatusCode: 503}
}

func (f *downFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (runlock.ReleaseFunc, error) {
	return nil, runlock.ErrHeld
}

type countingLocker struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (l *countingLocker) Acquire(context.Context, string, time.Duration) (runlock.ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Run.StatePath = filepath.Join(dir, "data", "state.json")
	cfg.Run.OutputPath = filepath.Join(dir, "docs", "index.html")
	cfg.Run.Targets = nil
	cfg.Run.MaxWorkers = 1
	cfg.Domains.Targets = []string{target}
	return cfg
}

func outputStore(t *testing.T, cfg config.Config) storage.ArtifactStore {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: filepath.Dir(cfg.Run.OutputPath)})
	require.NoError(t, err)
	return store
}

// TestRunOnceKeepsProductsOfFailedDomain ensures a dead origin marks the
// domain as failed while its stored products survive the pass.
func TestRunOnceKeepsProductsOfFailedDomain(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	prior := monitor.NewState()
	prior.Products["shop.example::kept"] = monitor.ProductState{
		Domain: "shop.example", URL: "https://shop.example/p/1", Name: "Kept Plan",
		Available: monitor.InStock, FirstSeen: "2026-06-01T00:00:00Z",
		LastSeen: "2026-06-01T00:00:00Z", LastChange: "2026-06-01T00:00:00Z",
	}
	require.NoError(t, state.New(cfg.Run.StatePath, clk, nil).Save(context.Background(), prior))

	fetcher := &downFetcher{}
	remote := memory.NewBlobStore()
	a := NewWithServices(cfg, nil, Services{
		Fetcher: fetcher,
		Clock:   clk,
		Output:  outputStore(t, cfg),
		Remote:  []storage.ArtifactStore{remote},
	})
	t.Cleanup(a.Close)

	summary, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.DomainsError)
	require.Equal(t, 0, summary.DomainsOK)
	if fetcher.Calls() == 0 {
		t.Fatalf("expected the seed to be fetched, got no calls")
	}

	saved := state.New(cfg.Run.StatePath, clk, nil).Load(context.Background())
	require.Contains(t, saved.Products, "shop.example::kept")
	domain := saved.Domains["shop.example"]
	require.Equal(t, "error", domain.LastStatus)
	require.NotEmpty(t, domain.LastError)

	page, err := os.ReadFile(cfg.Run.OutputPath)
	require.NoError(t, err)
	require.Contains(t, string(page), "Kept Plan")

	st, latest, ok := a.Latest().Get()
	require.True(t, ok)
	require.Equal(t, summary, latest)
	require.Contains(t, st.Products, "shop.example::kept")

	doc, contentType, ok := remote.Get(StateArtifact)
	require.True(t, ok)
	require.Equal(t, storage.ContentTypeJSON, contentType)
	require.Contains(t, string(doc), `"shop.example::kept"`)
	require.Equal(t, 2, remote.Len())
}

// TestRunOncePublishesArtifacts ensures remote stores receive the dashboard
// and the state document after the save.
func TestRunOncePublishesArtifacts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	remote := &storage.MockArtifactStore{}
	remote.On("PutObject", mock.Anything, DashboardArtifact, storage.ContentTypeHTML, mock.Anything).
		Return("mem://index.html", nil).Once()
	remote.On("PutObject", mock.Anything, StateArtifact, storage.ContentTypeJSON, mock.Anything).
		Return("mem://state.json", nil).Once()

	locker := &countingLocker{}
	a := NewWithServices(cfg, nil, Services{
		Fetcher: &downFetcher{},
		Clock:   clk,
		Remote:  []storage.ArtifactStore{remote},
		Locker:  locker,
	})
	t.Cleanup(a.Close)

	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	remote.AssertExpectations(t)
	require.Equal(t, 1, locker.acquired)
	require.Equal(t, 1, locker.released)
}

// TestRunOnceSkipsWhenLockHeld ensures an overlapping pass leaves state untouched.
func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fetcher := &downFetcher{}
	a := NewWithServices(cfg, nil, Services{Fetcher: fetcher, Clock: clk, Locker: heldLocker{}})
	t.Cleanup(a.Close)

	_, err := a.RunOnce(context.Background())
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("expected ErrSkipped, got %v", err)
	}
	require.Zero(t, fetcher.Calls())
	_, statErr := os.Stat(cfg.Run.StatePath)
	require.True(t, os.IsNotExist(statErr))
	_, _, ok := a.Latest().Get()
	require.False(t, ok)
}

// TestRunOnceFailsWhenStateCannotBeSaved ensures a failed save is reported.
func TestRunOnceFailsWhenStateCannotBeSaved(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Run.StatePath = filepath.Join(blocker, "state.json")

	a := NewWithServices(cfg, nil, Services{Fetcher: &downFetcher{}, Clock: clk})
	t.Cleanup(a.Close)

	_, err := a.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected save error, got nil")
	}
	require.Contains(t, err.Error(), "save state")
	_, _, ok := a.Latest().Get()
	require.False(t, ok)
}

// TestTriggerRejectsOverlappingPass ensures only one background pass runs at a time.
func TestTriggerRejectsOverlappingPass(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := NewWithServices(cfg, nil, Services{Fetcher: &downFetcher{}, Clock: clk})
	t.Cleanup(a.Close)

	a.running.Store(true)
	err := a.Trigger(context.Background())()
	if !errors.Is(err, api.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	a.running.Store(false)
	require.NoError(t, a.Trigger(context.Background())())
	a.passes.Wait()

	_, summary, ok := a.Latest().Get()
	require.True(t, ok)
	require.Equal(t, 1, summary.DomainsError)
}
