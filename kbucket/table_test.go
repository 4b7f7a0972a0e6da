package kbucket

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/peer"
)

func idWithLastByte(b byte) bits.ID {
	var id bits.ID
	id[bits.Length-1] = b
	return id
}

func allFF() bits.ID {
	var id bits.ID
	for i := range id {
		id[i] = 0xFF
	}
	return id
}

func TestBucketFillsWithoutSplitting(t *testing.T) {
	localID := allFF()
	tab := New(localID, 8, nil)

	for i := byte(1); i <= 8; i++ {
		p := peer.New(idWithLastByte(i), net.ParseIP("10.0.0.1"), 4444, 0)
		require.NoError(t, tab.Insert(context.Background(), p))
	}

	require.Len(t, tab.Buckets(), 1)
	require.Equal(t, 8, tab.Count())
}

func TestBucketSplitsOnNinthInsert(t *testing.T) {
	localID := allFF()
	tab := New(localID, 8, nil)

	for i := byte(1); i <= 9; i++ {
		p := peer.New(idWithLastByte(i), net.ParseIP("10.0.0.1"), 4444, 0)
		require.NoError(t, tab.Insert(context.Background(), p))
	}

	buckets := tab.Buckets()
	require.Len(t, buckets, 2)

	// The bucket containing the local ID (all-FF) must be one of the two.
	var ownerFound bool
	for _, b := range buckets {
		if b.Contains(localID) {
			ownerFound = true
		}
	}
	require.True(t, ownerFound)
	require.Equal(t, 9, tab.Count())
}

func TestLocalIDNeverInserted(t *testing.T) {
	localID := allFF()
	tab := New(localID, 8, nil)
	p := peer.New(localID, net.ParseIP("10.0.0.1"), 4444, 0)
	require.NoError(t, tab.Insert(context.Background(), p))
	require.Equal(t, 0, tab.Count())
}

func TestFindClosestSortedByDistance(t *testing.T) {
	localID := allFF()
	tab := New(localID, 8, nil)
	for i := byte(1); i <= 5; i++ {
		p := peer.New(idWithLastByte(i), net.ParseIP("10.0.0.1"), 4444, 0)
		require.NoError(t, tab.Insert(context.Background(), p))
	}

	target := idWithLastByte(0)
	closest := tab.FindClosest(target, 3, nil)
	require.Len(t, closest, 3)
	for i := 0; i < len(closest)-1; i++ {
		require.True(t, bits.Cmp(target, closest[i].ID(), closest[i+1].ID()) <= 0)
	}
}

func TestRemoveJoinsEmptyBucket(t *testing.T) {
	localID := allFF()
	tab := New(localID, 8, nil)

	var peers []*peer.Peer
	for i := byte(1); i <= 9; i++ {
		p := peer.New(idWithLastByte(i), net.ParseIP("10.0.0.1"), 4444, 0)
		peers = append(peers, p)
		require.NoError(t, tab.Insert(context.Background(), p))
	}
	require.Len(t, tab.Buckets(), 2)

	// Drain whichever bucket does not own the local ID entirely.
	for _, b := range tab.Buckets() {
		if b.Contains(localID) {
			continue
		}
		for _, p := range b.Contacts() {
			tab.Remove(p)
		}
	}
	for _, p := range peers {
		tab.Remove(p) // idempotent on already-removed contacts
	}

	// After removing every contact in the non-owning bucket, the table
	// should have rejoined into one bucket tiling the whole space.
	buckets := tab.Buckets()
	require.Len(t, buckets, 1)
	require.Equal(t, 0, buckets[0].Min.Sign())
	require.Equal(t, 0, idSpaceSize.Cmp(buckets[0].Max))
}
