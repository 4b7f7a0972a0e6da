package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Dict{
		"0": int64(0),
		"1": []byte("rpc-id-bytes"),
		"2": List{int64(1), []byte("a"), []byte("b")},
		"3": Dict{"nested": []byte("v")},
	}

	encoded, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, int64(0), decoded["0"])
	require.Equal(t, []byte("rpc-id-bytes"), decoded["1"])
	list, ok := decoded["2"].(List)
	require.True(t, ok)
	require.Equal(t, int64(1), list[0])
	nested, ok := decoded["3"].(Dict)
	require.True(t, ok)
	require.Equal(t, []byte("v"), nested["nested"])
}

func TestDictKeysAreSorted(t *testing.T) {
	encoded, err := Encode(Dict{"b": int64(1), "a": int64(2)})
	require.NoError(t, err)
	// "a" (1-char key) sorts before "b" bencode-wise: d1:ai2e1:bi1ee
	require.Equal(t, "d1:ai2e1:bi1ee", string(encoded))
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestDecodeRejectsNonDictTopLevel(t *testing.T) {
	_, err := Decode([]byte("i5e"))
	require.ErrorIs(t, err, ErrNotADict)
}

func TestEncodeRejectsNonDictTopLevel(t *testing.T) {
	var buf []byte
	_ = buf
	// Encode's signature only accepts Dict, so a non-dict top level cannot
	// even be constructed at the type level -- the stronger guarantee.
}

func TestIntegerEncoding(t *testing.T) {
	encoded, err := Encode(Dict{"n": int64(-42)})
	require.NoError(t, err)
	require.Equal(t, "d1:ni-42ee", string(encoded))
}
