package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/storage/local"
)

// TestNewCreatesMissingDirectory ensures the output folder is created on startup.
func TestNewCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "docs", "site")
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	probes, err := filepath.Glob(filepath.Join(dir, ".probe-*"))
	require.NoError(t, err)
	require.Empty(t, probes)
}

// TestNewRejectsBadBaseDir ensures unusable roots fail fast.
func TestNewRejectsBadBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	if err == nil {
		t.Fatalf("expected error for a file used as base dir, got nil")
	}
}

// TestPutObjectReplacesAtomically ensures a second write swaps the file
// without leaving temp files behind.
func TestPutObjectReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "index.html", "text/html", strings.NewReader("<p>old</p>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "index.html"), uri)

	_, err = store.PutObject(ctx, "index.html", "text/html", strings.NewReader("<p>new</p>"))
	require.NoError(t, err)

	page, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	require.Equal(t, "<p>new</p>", string(page))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".artifact-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

// TestPutObjectNestedPath ensures parent folders are created on demand.
func TestPutObjectNestedPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	doc := []byte(`{"products":{}}`)
	uri, err := store.PutObject(context.Background(), "data/state.json", "application/json", bytes.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "data", "state.json"), uri)

	got, err := os.ReadFile(filepath.Join(dir, "data", "state.json"))
	require.NoError(t, err)
	require.Equal(t, doc, got)
}

// TestPutObjectRejectsBadPaths ensures empty and escaping paths are refused.
func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	for _, path := range []string{"", "../escape.html", "a/../../escape.html", "."} {
		if _, err := store.PutObject(context.Background(), path, "text/html", strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for path %q, got nil", path)
		}
	}
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.html"))
	require.True(t, os.IsNotExist(err))
}
