package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	id, err := bits.Generate()
	require.NoError(t, err)
	return New(id, net.ParseIP("10.0.0.1"), 4444, 3333)
}

func TestLivenessUnknownByDefault(t *testing.T) {
	p := newTestPeer(t)
	require.Equal(t, Unknown, p.Liveness(time.Now(), time.Hour))
}

func TestLivenessGoodAfterReply(t *testing.T) {
	p := newTestPeer(t)
	now := time.Now()
	p.MarkReplied(now)
	require.Equal(t, Good, p.Liveness(now.Add(time.Minute), time.Hour))
}

func TestLivenessBadAfterTwoFailures(t *testing.T) {
	p := newTestPeer(t)
	now := time.Now()
	p.MarkFailed(now)
	p.MarkFailed(now.Add(time.Second))
	require.Equal(t, Bad, p.Liveness(now.Add(time.Minute), time.Hour))
}

func TestLivenessBadAfterFailureFollowingReply(t *testing.T) {
	p := newTestPeer(t)
	now := time.Now()
	p.MarkReplied(now)
	p.MarkFailed(now.Add(time.Second))
	require.Equal(t, Bad, p.Liveness(now.Add(time.Minute), time.Hour))
}

func TestRegistryReturnsCanonicalObject(t *testing.T) {
	r := NewRegistry()
	id, err := bits.Generate()
	require.NoError(t, err)
	ip := net.ParseIP("10.0.0.2")

	a := r.GetOrCreate(id, ip, 4444, 3333)
	b := r.GetOrCreate(id, ip, 4444, 3333)
	require.Same(t, a, b)
	require.Equal(t, 1, r.Len())
}

func TestIgnoredAddressThreshold(t *testing.T) {
	r := NewRegistry()
	ip := net.ParseIP("10.0.0.3")
	now := time.Now()

	require.False(t, r.IsIgnored(ip, 4444, time.Minute, 2, now))
	for i := 0; i < 3; i++ {
		r.RecordFailure(ip, 4444, now)
	}
	require.True(t, r.IsIgnored(ip, 4444, time.Minute, 2, now))
	require.False(t, r.IsIgnored(ip, 4444, time.Minute, 2, now.Add(2*time.Minute)))
}
