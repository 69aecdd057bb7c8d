// Package gcs publishes run artifacts to a Google Cloud Storage bucket, for
// serving the dashboard as a static site.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultCacheControl = "no-cache, max-age=0"

// Config captures the bucket and object layout.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
	// CacheControl is set on every object; the dashboard changes every run.
	CacheControl string `mapstructure:"cache_control"`
}

// BlobStore uploads artifacts into one bucket.
type BlobStore struct {
	bucket       *storage.BucketHandle
	name         string
	prefix       string
	cacheControl string
}

// New validates cfg and binds the bucket handle. No request is made until
// the first upload.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = defaultCacheControl
	}
	return &BlobStore{
		bucket:       client.Bucket(bucket),
		name:         bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		cacheControl: cacheControl,
	}, nil
}

// ObjectName joins the configured prefix and an artifact path.
func ObjectName(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// PutObject implements storage.ArtifactStore. Artifacts are small and always
// overwritten whole, so the upload is sent in a single request and retried
// on transient errors regardless of preconditions.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("gcs: path is required")
	}
	object := ObjectName(s.prefix, name)
	handle := s.bucket.Object(object).Retryer(storage.WithPolicy(storage.RetryAlways))

	w := handle.NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CacheControl = s.cacheControl

	_, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("gcs: upload %s: %w", object, err)
	}
	return s.URI(object), nil
}

// URI formats the gs:// location of object.
func (s *BlobStore) URI(object string) string {
	return "gs://" + s.name + "/" + object
}
