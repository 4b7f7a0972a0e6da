package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/config"
	"github.com/lbryio/go-dht/kbucket"
	"github.com/lbryio/go-dht/peer"
	"github.com/lbryio/go-dht/store"
	"github.com/lbryio/go-dht/token"
)

// stubBlobs satisfies collab.BlobStorage for the handful of tests that need
// findValue's self-advertise path.
type stubBlobs struct{ completed map[bits.ID]bool }

func (s stubBlobs) BlobsToAnnounce() []bits.ID                  { return nil }
func (s stubBlobs) UpdateLastAnnounced([]bits.ID, time.Time)    {}
func (s stubBlobs) IsCompleted(key bits.ID) bool                { return s.completed[key] }

// newTestEngine builds a fully wired, listening Engine on an ephemeral
// loopback port, modeled on the teacher's p2p/discover/sim_test.go
// in-process harness style.
func newTestEngine(t *testing.T) (*Engine, bits.ID) {
	t.Helper()
	cfg := config.Default()
	cfg.RPCTimeout = 200 * time.Millisecond

	id, err := bits.Generate()
	require.NoError(t, err)

	tbl := kbucket.New(id, cfg.K, func(ctx context.Context, p *peer.Peer) bool { return false })
	registry := peer.NewRegistry()
	st := store.New(cfg.DataExpiration)
	secrets, err := token.New(time.Now().Add(-time.Hour), cfg.TokenSecretRefreshInterval)
	require.NoError(t, err)

	e := New(cfg, id, 0, tbl, registry, st, stubBlobs{completed: map[bits.ID]bool{}}, nil, secrets)
	require.NoError(t, e.Listen("127.0.0.1:0"))
	t.Cleanup(func() { _ = e.Stop() })
	return e, id
}

func localAddrOf(t *testing.T, e *Engine) (string, int) {
	t.Helper()
	addr := e.conn.LocalAddr().String()
	host, port, err := splitHostPort(addr)
	require.NoError(t, err)
	return host, port
}

func TestPingRoundTrip(t *testing.T) {
	a, _ := newTestEngine(t)
	b, bID := newTestEngine(t)

	host, port := localAddrOf(t, b)
	target := peer.New(bID, mustParseIP(t, host), port, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Ping(ctx, target))
}

func TestFindNodeReturnsClosestContacts(t *testing.T) {
	a, _ := newTestEngine(t)
	b, bID := newTestEngine(t)

	host, port := localAddrOf(t, b)
	target := peer.New(bID, mustParseIP(t, host), port, 0)

	key, err := bits.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	contacts, err := a.FindNode(ctx, target, key)
	require.NoError(t, err)
	require.Empty(t, contacts) // b's table is empty
}

func TestFindValueFallsBackToContactsWhenNotFound(t *testing.T) {
	a, _ := newTestEngine(t)
	b, bID := newTestEngine(t)

	host, port := localAddrOf(t, b)
	target := peer.New(bID, mustParseIP(t, host), port, 0)

	key, err := bits.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := a.FindValue(ctx, target, key)
	require.NoError(t, err)
	require.False(t, result.Found)
	require.NotEmpty(t, result.Token)
}

func TestStoreRequiresValidToken(t *testing.T) {
	a, _ := newTestEngine(t)
	b, bID := newTestEngine(t)

	host, port := localAddrOf(t, b)
	target := peer.New(bID, mustParseIP(t, host), port, 0)

	blobHash, err := bits.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = a.Store(ctx, target, blobHash, []byte("not-a-real-token"), a.localID, 0)
	require.Error(t, err)
}

func TestStoreSucceedsWithIssuedToken(t *testing.T) {
	a, _ := newTestEngine(t)
	b, bID := newTestEngine(t)

	host, port := localAddrOf(t, b)
	target := peer.New(bID, mustParseIP(t, host), port, 0)

	blobHash, err := bits.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	found, err := a.FindValue(ctx, target, blobHash)
	require.NoError(t, err)
	require.NotEmpty(t, found.Token)

	require.NoError(t, a.Store(ctx, target, blobHash, found.Token, a.localID, 0))
}
