// Package local publishes artifacts into a directory, typically the static
// site folder that serves the dashboard.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirMode  fs.FileMode = 0o750
	fileMode fs.FileMode = 0o644
)

// Config locates the output directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts below a single root directory.
type BlobStore struct {
	root string
}

// New prepares BaseDir, creating it when missing, and verifies that files
// can be created inside it so a misconfigured path fails at startup rather
// than after the first crawl.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, errors.New("local store: base directory is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("local store: prepare %s: %w", root, err)
	}
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("local store: %s is not writable: %w", root, err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("local store: remove probe: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject implements storage.ArtifactStore. The object replaces any
// previous file at the same path in one rename, so a web server serving the
// directory never sees a truncated page.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	target, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("local store: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("local store: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("local store: write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return "", fmt.Errorf("local store: chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("local store: replace %s: %w", path, err)
	}
	return "file://" + target, nil
}

// resolve maps an artifact path to a file below root, rejecting paths that
// would escape it.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("local store: path is required")
	}
	target := filepath.Join(s.root, path)
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local store: path %q escapes %s", path, s.root)
	}
	return target, nil
}
