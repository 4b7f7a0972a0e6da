package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
)

func TestStoreAndFind(t *testing.T) {
	s := New(24 * time.Hour)
	key, err := bits.Generate()
	require.NoError(t, err)
	publisher, err := bits.Generate()
	require.NoError(t, err)

	now := time.Now()
	s.Store(key, Announcement{
		AnnouncingPeerID:    publisher,
		CompactTCPAddress:   []byte{10, 0, 0, 1, 0x0d, 0xac},
		LastPublished:       now,
		OriginallyPublished: now,
		OriginalPublisherID: publisher,
	})

	found := s.Find(key, now)
	require.Len(t, found, 1)
	require.Equal(t, publisher, found[0].AnnouncingPeerID)
}

func TestAnnouncementExpires(t *testing.T) {
	s := New(24 * time.Hour)
	key, err := bits.Generate()
	require.NoError(t, err)
	publisher, err := bits.Generate()
	require.NoError(t, err)

	now := time.Now()
	s.Store(key, Announcement{AnnouncingPeerID: publisher, LastPublished: now})

	require.True(t, s.HasAny(key, now))
	require.False(t, s.HasAny(key, now.Add(25*time.Hour)))
}

func TestExpireStaleRemovesEmptyKeys(t *testing.T) {
	s := New(time.Hour)
	key, err := bits.Generate()
	require.NoError(t, err)
	publisher, err := bits.Generate()
	require.NoError(t, err)

	now := time.Now()
	s.Store(key, Announcement{AnnouncingPeerID: publisher, LastPublished: now})

	removed := s.ExpireStale(now.Add(2 * time.Hour))
	require.Equal(t, 1, removed)
	require.Empty(t, s.Keys())
}

func TestStoreRefreshesExistingAnnouncer(t *testing.T) {
	s := New(24 * time.Hour)
	key, err := bits.Generate()
	require.NoError(t, err)
	publisher, err := bits.Generate()
	require.NoError(t, err)

	now := time.Now()
	s.Store(key, Announcement{AnnouncingPeerID: publisher, LastPublished: now})
	s.Store(key, Announcement{AnnouncingPeerID: publisher, LastPublished: now.Add(time.Minute)})

	found := s.Find(key, now.Add(time.Minute))
	require.Len(t, found, 1)
}
