package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockArtifactStore is a mock implementation of ArtifactStore for testing.
type MockArtifactStore struct {
	mock.Mock
}

// PutObject records the call. The reader is drained so expectations can
// match on the uploaded bytes.
func (m *MockArtifactStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
