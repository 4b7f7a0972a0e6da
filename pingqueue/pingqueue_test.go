package pingqueue

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/kbucket"
	"github.com/lbryio/go-dht/peer"
)

func testPeer(t *testing.T, lastByte byte) *peer.Peer {
	t.Helper()
	var id bits.ID
	id[len(id)-1] = lastByte
	return peer.New(id, net.IPv4(127, 0, 0, byte(lastByte)), 4444, 0)
}

func TestEnqueuePingsImmediateEntries(t *testing.T) {
	localID, err := bits.Generate()
	require.NoError(t, err)
	tbl := kbucket.New(localID, 8, func(context.Context, *peer.Peer) bool { return false })

	var pinged int32
	ping := func(ctx context.Context, p *peer.Peer) error {
		atomic.AddInt32(&pinged, 1)
		return nil
	}

	q := New(tbl, ping, func(*peer.Peer, time.Time) bool { return false }, nil)
	q.Enqueue(testPeer(t, 1), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&pinged) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueGoodPeerSkipsPing(t *testing.T) {
	localID, err := bits.Generate()
	require.NoError(t, err)
	tbl := kbucket.New(localID, 8, func(context.Context, *peer.Peer) bool { return false })

	var pinged int32
	ping := func(ctx context.Context, p *peer.Peer) error {
		atomic.AddInt32(&pinged, 1)
		return nil
	}

	q := New(tbl, ping, func(*peer.Peer, time.Time) bool { return true }, nil)
	q.Enqueue(testPeer(t, 2), 0)

	require.Equal(t, int32(0), atomic.LoadInt32(&pinged))
	require.Equal(t, 1, tbl.Count())
}

func TestDelayedEntryPromotesAfterDue(t *testing.T) {
	localID, err := bits.Generate()
	require.NoError(t, err)
	tbl := kbucket.New(localID, 8, func(context.Context, *peer.Peer) bool { return false })

	var mu sync.Mutex
	var pingedAt time.Time
	ping := func(ctx context.Context, p *peer.Peer) error {
		mu.Lock()
		pingedAt = time.Now()
		mu.Unlock()
		return nil
	}

	q := New(tbl, ping, func(*peer.Peer, time.Time) bool { return false }, nil)
	q.Enqueue(testPeer(t, 3), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !pingedAt.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}
