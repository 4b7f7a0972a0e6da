package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/config"
)

// testBlobs is a minimal collab.BlobStorage fake: a fixed announce queue and
// a set of keys the node can itself serve.
type testBlobs struct {
	toAnnounce []bits.ID
	completed  map[bits.ID]bool
	announced  []bits.ID
}

func (b *testBlobs) BlobsToAnnounce() []bits.ID { return b.toAnnounce }
func (b *testBlobs) UpdateLastAnnounced(keys []bits.ID, at time.Time) {
	b.announced = append(b.announced, keys...)
}
func (b *testBlobs) IsCompleted(key bits.ID) bool { return b.completed[key] }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RPCTimeout = 200 * time.Millisecond
	cfg.IterativeLookupDelay = 20 * time.Millisecond
	cfg.BottomOutLimit = 2
	cfg.RefreshInterval = time.Hour
	cfg.AnnouncerInterval = time.Hour
	cfg.ListenAddress = "127.0.0.1:0"
	return cfg
}

func newTestNode(t *testing.T, blobs *testBlobs) *Node {
	t.Helper()
	id, err := bits.Generate()
	require.NoError(t, err)

	var storage *testBlobs
	if blobs != nil {
		storage = blobs
	}

	var n *Node
	if storage != nil {
		n, err = New(testConfig(), id, 3333, storage, nil, nil)
	} else {
		n, err = New(testConfig(), id, 3333, nil, nil, nil)
	}
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func listenAddr(t *testing.T, n *Node) string {
	t.Helper()
	return n.engine.LocalAddr().String()
}

func TestJoinDiscoversBootstrapPeer(t *testing.T) {
	a := newTestNode(t, nil)
	b := newTestNode(t, nil)
	b.cfg.BootstrapHosts = []string{listenAddr(t, a)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Join(ctx))

	select {
	case <-b.Joined():
	default:
		t.Fatal("expected b to be marked joined")
	}
	require.Greater(t, b.table.Count(), 0)
}

func TestPeerSearchFindsOtherNode(t *testing.T) {
	a := newTestNode(t, nil)
	b := newTestNode(t, nil)
	b.cfg.BootstrapHosts = []string{listenAddr(t, a)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Join(ctx))

	found, err := b.PeerSearch(ctx, a.localID, a.cfg.K)
	require.NoError(t, err)
	require.NotEmpty(t, found)

	var ids []bits.ID
	for _, p := range found {
		ids = append(ids, p.ID())
	}
	require.Contains(t, ids, a.localID)
}

func TestAnnounceBlobStoresToPeer(t *testing.T) {
	blobHash, err := bits.Generate()
	require.NoError(t, err)

	a := newTestNode(t, nil)
	storingBlobs := &testBlobs{completed: map[bits.ID]bool{}}
	b := newTestNode(t, storingBlobs)
	b.cfg.BootstrapHosts = []string{listenAddr(t, a)}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, b.Join(ctx))

	acceptedBy, err := b.AnnounceBlob(ctx, blobHash)
	require.NoError(t, err)
	require.NotEmpty(t, acceptedBy)
	require.Contains(t, acceptedBy, a.localID)

	now := time.Now()
	require.True(t, a.local.HasAny(blobHash, now))
}
