package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lbryio/go-dht/bits"
)

func TestRequestRoundTrip(t *testing.T) {
	nodeID, err := bits.Generate()
	require.NoError(t, err)
	var rpcID RPCID
	copy(rpcID[:], []byte("12345678901234567890"))

	req := &Request{
		RPCID:  rpcID,
		NodeID: nodeID,
		Method: MethodPing,
		Args:   PingArgs(1),
	}
	encoded, err := EncodeRequest(req)
	require.NoError(t, err)

	kind, decodedReq, _, _, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, KindRequest, kind)
	require.Equal(t, MethodPing, decodedReq.Method)
	require.Equal(t, nodeID, decodedReq.NodeID)
	require.Equal(t, rpcID, decodedReq.RPCID)
}

func TestStoreArgsRoundTrip(t *testing.T) {
	blobHash, err := bits.Generate()
	require.NoError(t, err)
	publisher, err := bits.Generate()
	require.NoError(t, err)

	args := StoreArgs(blobHash, []byte("tok"), 3333, publisher, 0, 1)
	parsed, err := ParseStoreArgs(args)
	require.NoError(t, err)
	require.Equal(t, blobHash, parsed.BlobHash)
	require.Equal(t, []byte("tok"), parsed.Token)
	require.Equal(t, 3333, parsed.TCPPort)
	require.Equal(t, publisher, parsed.OriginalPublisherID)
	require.Equal(t, int64(1), parsed.ProtocolVersion)
}

func TestParseStoreArgsRejectsLegacyShape(t *testing.T) {
	// Legacy variant: a single trailing dict {token, lbryid, port} instead of
	// the five positional fields. Strict reimplementation rejects this.
	_, err := ParseStoreArgs([]interface{}{map[string]interface{}{}})
	require.Error(t, err)
}

func TestCompactAddressRoundTrip(t *testing.T) {
	ip := [4]byte{10, 0, 0, 1}
	encoded := CompactAddress(ip, 4444)
	decodedIP, decodedPort, err := DecodeCompactAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, ip, decodedIP)
	require.Equal(t, uint16(4444), decodedPort)
}

func TestCompactContactRoundTrip(t *testing.T) {
	id, err := bits.Generate()
	require.NoError(t, err)
	ip := [4]byte{10, 0, 0, 2}
	contact := CompactContact(id, ip, 4445)
	decodedID, decodedIP, decodedPort, err := DecodeCompactContact(contact)
	require.NoError(t, err)
	require.Equal(t, id, decodedID)
	require.Equal(t, ip, decodedIP)
	require.Equal(t, uint16(4445), decodedPort)
}
