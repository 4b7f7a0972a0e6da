package blobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
)

func TestBlobsToAnnounceReturnsDueCompletedBlobs(t *testing.T) {
	s := New()
	hash, err := bits.Generate()
	require.NoError(t, err)

	now := time.Now()
	s.AddCompletedBlob(hash, now.Add(-time.Minute))

	due := s.BlobsToAnnounce()
	require.Contains(t, due, hash)
	require.True(t, s.IsCompleted(hash))
}

func TestUpdateLastAnnouncedDefersNextAnnouncement(t *testing.T) {
	s := New()
	hash, err := bits.Generate()
	require.NoError(t, err)

	now := time.Now()
	s.AddCompletedBlob(hash, now)
	require.Contains(t, s.BlobsToAnnounce(), hash)

	s.UpdateLastAnnounced([]bits.ID{hash}, now)
	require.NotContains(t, s.BlobsToAnnounce(), hash)
}

func TestIsCompletedFalseForUnknownHash(t *testing.T) {
	s := New()
	hash, err := bits.Generate()
	require.NoError(t, err)
	require.False(t, s.IsCompleted(hash))
}
