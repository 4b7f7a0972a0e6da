package lookup

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/config"
	"github.com/lbryio/go-dht/kbucket"
	"github.com/lbryio/go-dht/peer"
	"github.com/lbryio/go-dht/protocol"
)

// fakeNetwork is a tiny in-memory Dialer: each peer key maps to a
// scripted findNode/findValue response, modeled on the teacher's
// p2p/discover/sim_test.go in-process network fixtures.
type fakeNetwork struct {
	mu        sync.Mutex
	nodeReply map[string][]protocol.Contact
	valueReply map[string]*protocol.FindValueResult
}

func (f *fakeNetwork) FindNode(_ context.Context, target *peer.Peer, _ bits.ID) ([]protocol.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodeReply[target.Key()], nil
}

func (f *fakeNetwork) FindValue(_ context.Context, target *peer.Peer, _ bits.ID) (*protocol.FindValueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.valueReply[target.Key()]; ok {
		return r, nil
	}
	return &protocol.FindValueResult{}, nil
}

func newTestPeer(t *testing.T, lastByte byte) *peer.Peer {
	t.Helper()
	var id bits.ID
	id[len(id)-1] = lastByte
	return peer.New(id, net.IPv4(127, 0, 0, byte(lastByte)), 4444, 3333)
}

func TestNodeFinderConvergesOnDirectAnswer(t *testing.T) {
	cfg := config.Default()
	cfg.Alpha = 2
	cfg.IterativeLookupDelay = time.Millisecond
	cfg.BottomOutLimit = 3

	localID, err := bits.Generate()
	require.NoError(t, err)
	key, err := bits.Generate()
	require.NoError(t, err)

	seed := newTestPeer(t, 1)
	tbl := kbucket.New(localID, cfg.K, func(context.Context, *peer.Peer) bool { return false })

	netw := &fakeNetwork{nodeReply: map[string][]protocol.Contact{}}

	registry := peer.NewRegistry()
	registry.GetOrCreate(seed.ID(), seed.IP(), seed.UDPPort(), seed.TCPPort())

	finder := NewNodeFinder(netw, registry, tbl, localID, key, cfg, nil, []*peer.Peer{seed}, nil)
	batches := finder.Run(context.Background())

	var last []*peer.Peer
	for b := range batches {
		last = b
	}
	require.NotNil(t, last)
}

func TestValueFinderYieldsNothingWithoutStoreOrPeers(t *testing.T) {
	cfg := config.Default()
	cfg.IterativeLookupDelay = time.Millisecond
	cfg.BottomOutLimit = 1

	localID, err := bits.Generate()
	require.NoError(t, err)
	key, err := bits.Generate()
	require.NoError(t, err)

	tbl := kbucket.New(localID, cfg.K, func(context.Context, *peer.Peer) bool { return false })
	registry := peer.NewRegistry()
	netw := &fakeNetwork{valueReply: map[string]*protocol.FindValueResult{}}

	finder := NewValueFinder(netw, registry, tbl, localID, key, cfg, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var got [][]protocol.PeerAddress
	for b := range finder.Run(ctx) {
		got = append(got, b)
	}
	require.Empty(t, got) // no local store, no network peers: nothing to yield
}
