// Package bits implements the 384-bit identifier space that node IDs and
// blob keys live in: XOR distance, ordering by distance to a target, and
// the common-prefix-length used to index routing table buckets.
package bits

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
)

// Length is the width of the ID space in bytes (384 bits).
const Length = 48

// Bits is the width of the ID space in bits.
const Bits = Length * 8

// ErrBadLength is returned when a byte slice of the wrong size is used to
// build an ID.
var ErrBadLength = errors.New("bits: value must be exactly 48 bytes long")

// ID is an opaque 384-bit identifier: a node ID, a blob key, or an RPC
// correlation ID never reuses this type (RPC IDs are 20 bytes, see wire).
type ID [Length]byte

// Zero is the all-zero ID, used as a sentinel, never a real identity.
var Zero ID

// Generate draws a fresh ID the way a new node mints its own identity: hash
// 32 random bytes down to the ID width. Kept distinct from FromBytes so
// callers can see at the call site that this is the "mint an identity" path.
func Generate() (ID, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return Zero, err
	}
	sum := sha512.Sum384(seed[:])
	var id ID
	copy(id[:], sum[:])
	return id, nil
}

// FromBytes copies b into an ID, requiring an exact length match.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Length {
		return Zero, ErrBadLength
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the ID's bytes as a fresh slice.
func (id ID) Bytes() []byte {
	out := make([]byte, Length)
	copy(out, id[:])
	return out
}

// String renders the ID as hex, for logs and test failures.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// FromHex parses the hex encoding produced by String, as accepted on the
// CLI and in config files.
func FromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, err
	}
	return FromBytes(b)
}

// Equal reports whether two IDs are identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool {
	return id == Zero
}

// Xor returns the bitwise XOR of a and b, which is how distance in this
// space is defined.
func Xor(a, b ID) ID {
	var out ID
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less reports whether a is strictly closer to target than b is, comparing
// XOR distance as a big-endian unsigned integer.
func Less(target, a, b ID) bool {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			return da < db
		}
	}
	return false
}

// Cmp compares the distances of a and b to target: -1 if a is closer, 1 if
// b is closer, 0 if equidistant.
func Cmp(target, a, b ID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen counts the number of leading bits shared between a and b,
// which is the routing table bucket index under the standard Kademlia
// indexing scheme (a bucket at depth i covers IDs sharing exactly i leading
// bits with the table owner).
func CommonPrefixLen(a, b ID) int {
	for i := 0; i < Length; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			continue
		}
		for j := 0; j < 8; j++ {
			if x&(0x80>>uint(j)) != 0 {
				return i*8 + j
			}
		}
	}
	return Bits
}
