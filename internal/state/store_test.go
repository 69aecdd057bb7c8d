package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var clk = fixedClock{now: time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)}

// TestLoadMissingFileReturnsEmpty ensures a first run starts from an empty document.
func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()

	st := New(filepath.Join(t.TempDir(), "state.json"), clk, nil).Load(context.Background())
	require.Equal(t, monitor.SchemaVersion, st.SchemaVersion)
	require.Empty(t, st.Products)
	require.NotNil(t, st.Products)
	require.Equal(t, "2026-06-02T09:30:00Z", st.LastRun.StartedAt)
}

// TestLoadCorruptFileReturnsEmpty ensures corruption degrades instead of failing.
func TestLoadCorruptFileReturnsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	st := New(path, clk, nil).Load(context.Background())
	require.Empty(t, st.Products)
	require.Empty(t, st.Domains)
}

// TestSaveLoadRoundTrip ensures a saved document loads back unchanged.
func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := New(path, clk, nil)

	st := monitor.NewState()
	st.Domains["a.example"] = monitor.DomainState{LastStatus: "ok", LastOK: "2026-06-01T00:00:00Z", LastDurationMS: 1200}
	st.Products["a.example::1"] = monitor.ProductState{
		Domain:        "a.example",
		URL:           "https://a.example/p/1",
		Name:          "KVM <1G>",
		Price:         "3.00 USD",
		Specs:         monitor.Specs{}.Set("RAM", "1 GB").Set("CPU", "1 vCPU"),
		Available:     monitor.InStock,
		Location:      "Tokyo",
		Locations:     []string{"Tokyo"},
		LocationLinks: map[string]string{"Tokyo": "https://a.example/p/1"},
		FirstSeen:     "2026-06-01T00:00:00Z",
		LastSeen:      "2026-06-01T00:00:00Z",
		LastChange:    "2026-06-01T00:00:00Z",
	}
	require.NoError(t, store.Save(context.Background(), st))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(raw), "}\n"))
	require.Contains(t, string(raw), `"name": "KVM <1G>"`)
	require.Less(t, strings.Index(string(raw), `"RAM"`), strings.Index(string(raw), `"CPU"`), "specs keep insertion order")

	loaded := store.Load(context.Background())
	require.Equal(t, st.Products, loaded.Products)
	require.Equal(t, st.Domains, loaded.Domains)
	require.Equal(t, "2026-06-02T09:30:00Z", loaded.UpdatedAt)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not linger")
}

// TestDecodeMigratesLegacyLocations ensures single-location records gain list and link forms.
func TestDecodeMigratesLegacyLocations(t *testing.T) {
	t.Parallel()

	doc := `{
  "schema_version": 1,
  "products": {
    "a": {"domain": "h.example", "url": "https://h.example/a", "name": "A", "option": " Paris ", "available": false},
    "b": {"domain": "h.example", "url": "https://h.example/b", "name": "B", "locations": ["", "Oslo", "Rome"], "available": null},
    "c": {"domain": "example.com", "url": "https://example.com/c", "name": "C", "available": true}
  },
  "domains": {"example.com": {"last_status": "ok"}, "h.example": {"last_status": "ok"}}
}`
	st, err := Decode([]byte(doc))
	require.NoError(t, err)

	a := st.Products["a"]
	require.Equal(t, "Paris", a.Location)
	require.Equal(t, []string{"Paris"}, a.Locations)
	require.Equal(t, map[string]string{"Paris": "https://h.example/a"}, a.LocationLinks)
	require.Equal(t, monitor.OutOfStock, a.Available)

	b := st.Products["b"]
	require.Equal(t, "Oslo", b.Location)
	require.Equal(t, []string{"Oslo", "Rome"}, b.Locations)
	require.Equal(t, monitor.Unknown, b.Available)

	require.NotContains(t, st.Products, "c")
	require.NotContains(t, st.Domains, "example.com")
	require.Contains(t, st.Domains, "h.example")
}

// TestDecodeSchemaMismatchSalvagesTables ensures a foreign version keeps products and domains.
func TestDecodeSchemaMismatchSalvagesTables(t *testing.T) {
	t.Parallel()

	doc := `{"schema_version": 0, "updated_at": "2020-01-01T00:00:00Z", "products": {"x": {"domain": "h.example", "name": "X"}}, "domains": {}}`
	st, err := Decode([]byte(doc))
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.Contains(t, st.Products, "x")
	require.Empty(t, st.UpdatedAt)

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	loaded := New(path, clk, nil).Load(context.Background())
	require.Contains(t, loaded.Products, "x")
	require.Equal(t, monitor.SchemaVersion, loaded.SchemaVersion)
}
