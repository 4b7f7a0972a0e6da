// Package collab holds the collaborator interfaces SPEC_FULL.md §6 names as
// consumed by the core: blob storage, clock, and DNS resolution. Kept in
// their own package, free of the protocol/dht packages, so both can depend
// on the interfaces without an import cycle.
package collab

import (
	"net"
	"time"

	"github.com/lbryio/go-dht/bits"
)

// BlobStorage is the external collaborator that owns the set of blobs this
// node can serve and the queue of keys still due for announcement. Blob
// file storage and hashing themselves are out of scope (SPEC_FULL.md §1);
// this interface is the seam the DHT core calls through.
type BlobStorage interface {
	// BlobsToAnnounce returns keys whose next_announce_time has passed.
	BlobsToAnnounce() []bits.ID
	// UpdateLastAnnounced advances next_announce_time for keys.
	UpdateLastAnnounced(keys []bits.ID, at time.Time)
	// IsCompleted reports whether the local node can itself serve key,
	// consulted by findValue to decide whether to self-advertise.
	IsCompleted(key bits.ID) bool
}

// Clock supplies monotonic "now" for every age, expiration, and timeout
// decision in the core, so tests can drive time deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Resolver resolves bootstrap hostnames to addresses, used once at join
// time.
type Resolver interface {
	Resolve(host string) ([]net.IP, error)
}

// SystemResolver is the production Resolver, backed by net.LookupIP.
type SystemResolver struct{}

func (SystemResolver) Resolve(host string) ([]net.IP, error) {
	return net.LookupIP(host)
}
