package kbucket

import (
	"math/big"
	"time"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/peer"
)

// idSpaceSize is 2^384, the exclusive upper bound of the whole ID space.
var idSpaceSize = new(big.Int).Lsh(big.NewInt(1), uint(bits.Bits))

func idToInt(id bits.ID) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Bucket covers a half-open ID range [Min, Max) and holds up to k contacts
// in insertion order: head is the oldest contact, tail the most recent
// (SPEC_FULL.md §3). Grounded on the teacher's bucket type in
// common/kademlia/kademlia.go, generalized from "evict worst on overflow" to
// the split-or-replace algorithm required by §4.4.
type Bucket struct {
	Min, Max     *big.Int
	contacts     []*peer.Peer
	k            int
	lastAccessed time.Time
}

func newBucket(min, max *big.Int, k int) *Bucket {
	return &Bucket{Min: min, Max: max, k: k, lastAccessed: time.Now()}
}

// LastAccessed reports when this bucket last had a contact inserted or
// refreshed into it, used by the refresh loop to find stale buckets.
func (b *Bucket) LastAccessed() time.Time { return b.lastAccessed }

func (b *Bucket) touch() { b.lastAccessed = time.Now() }

// Contains reports whether id falls inside [Min, Max).
func (b *Bucket) Contains(id bits.ID) bool {
	n := idToInt(id)
	return n.Cmp(b.Min) >= 0 && n.Cmp(b.Max) < 0
}

// Midpoint returns the ID at the middle of the bucket's range, used as the
// refresh-lookup target in SPEC_FULL.md §4.4.
func (b *Bucket) Midpoint() bits.ID {
	mid := new(big.Int).Add(b.Min, b.Max)
	mid.Rsh(mid, 1)
	return intToID(mid)
}

func intToID(n *big.Int) bits.ID {
	var id bits.ID
	b := n.Bytes()
	if len(b) > bits.Length {
		b = b[len(b)-bits.Length:]
	}
	copy(id[bits.Length-len(b):], b)
	return id
}

// Contacts returns a copy of the bucket's contacts, oldest first.
func (b *Bucket) Contacts() []*peer.Peer {
	out := make([]*peer.Peer, len(b.contacts))
	copy(out, b.contacts)
	return out
}

// Len reports the number of contacts currently held.
func (b *Bucket) Len() int { return len(b.contacts) }

// Full reports whether the bucket is at capacity.
func (b *Bucket) Full() bool { return len(b.contacts) >= b.k }

func (b *Bucket) indexOf(p *peer.Peer) int {
	for i, c := range b.contacts {
		if c == p {
			return i
		}
	}
	return -1
}

// moveToTail moves an already-present contact to the tail (most recent).
func (b *Bucket) moveToTail(p *peer.Peer) {
	i := b.indexOf(p)
	if i < 0 {
		return
	}
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	b.contacts = append(b.contacts, p)
	b.touch()
}

// appendTail adds a new contact at the tail.
func (b *Bucket) appendTail(p *peer.Peer) {
	b.contacts = append(b.contacts, p)
	b.touch()
}

// removeAt removes the contact at index i.
func (b *Bucket) removeAt(i int) {
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
}

// remove removes p if present, reporting whether it was found.
func (b *Bucket) remove(p *peer.Peer) bool {
	i := b.indexOf(p)
	if i < 0 {
		return false
	}
	b.removeAt(i)
	return true
}

// head returns the oldest contact, or nil if empty.
func (b *Bucket) head() *peer.Peer {
	if len(b.contacts) == 0 {
		return nil
	}
	return b.contacts[0]
}
