// Package storage defines where run artifacts (the dashboard page and the
// state document) are published after a successful save.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ArtifactStore uploads one object and returns its URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Artifact is one named file produced by a run.
type Artifact struct {
	Path        string
	ContentType string
	Data        []byte
}

// Content types for the artifacts a run produces.
const (
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// PublishAll uploads every artifact to every store. One failing upload does
// not stop the others; the returned error joins all failures.
func PublishAll(ctx context.Context, stores []ArtifactStore, artifacts ...Artifact) ([]string, error) {
	var (
		uris []string
		errs []error
	)
	for _, store := range stores {
		if store == nil {
			continue
		}
		for _, a := range artifacts {
			uri, err := store.PutObject(ctx, a.Path, a.ContentType, bytes.NewReader(a.Data))
			if err != nil {
				errs = append(errs, fmt.Errorf("put %s: %w", a.Path, err))
				continue
			}
			uris = append(uris, uri)
		}
	}
	return uris, errors.Join(errs...)
}
