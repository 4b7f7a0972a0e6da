package bits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXorSymmetric(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	require.Equal(t, Xor(a, b), Xor(b, a))
}

func TestLessOrdersByDistance(t *testing.T) {
	target := Zero
	var a, b ID
	a[Length-1] = 0x01
	b[Length-1] = 0x02
	require.True(t, Less(target, a, b))
	require.False(t, Less(target, b, a))
	require.Equal(t, -1, Cmp(target, a, b))
	require.Equal(t, 1, Cmp(target, b, a))
	require.Equal(t, 0, Cmp(target, a, a))
}

func TestCommonPrefixLen(t *testing.T) {
	var a, b ID
	require.Equal(t, Bits, CommonPrefixLen(a, b))

	b[0] = 0x80 // flip the MSB
	require.Equal(t, 0, CommonPrefixLen(a, b))

	b[0] = 0x01 // flip the last bit of the first byte
	require.Equal(t, 7, CommonPrefixLen(a, b))
}

func TestFromBytesRejectsBadLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 10))
	require.ErrorIs(t, err, ErrBadLength)

	id, err := FromBytes(make([]byte, Length))
	require.NoError(t, err)
	require.True(t, id.IsZero())
}

func TestFromHexRoundTrips(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	parsed, err := FromHex(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = FromHex("not-hex")
	require.Error(t, err)
}
