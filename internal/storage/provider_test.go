package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestPublishAllContinuesPastFailures ensures every artifact is attempted on every store.
func TestPublishAllContinuesPastFailures(t *testing.T) {
	t.Parallel()

	failing := &MockArtifactStore{}
	failing.On("PutObject", mock.Anything, "index.html", ContentTypeHTML, []byte("<html>")).
		Return("", errors.New("quota"))
	failing.On("PutObject", mock.Anything, "state.json", ContentTypeJSON, []byte("{}")).
		Return("gs://b/state.json", nil)
	working := &MockArtifactStore{}
	working.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("file:///out/x", nil)

	uris, err := PublishAll(context.Background(), []ArtifactStore{failing, nil, working},
		Artifact{Path: "index.html", ContentType: ContentTypeHTML, Data: []byte("<html>")},
		Artifact{Path: "state.json", ContentType: ContentTypeJSON, Data: []byte("{}")},
	)
	require.ErrorContains(t, err, "put index.html: quota")
	require.Equal(t, []string{"gs://b/state.json", "file:///out/x", "file:///out/x"}, uris)
	failing.AssertExpectations(t)
	working.AssertNumberOfCalls(t, "PutObject", 2)
}
