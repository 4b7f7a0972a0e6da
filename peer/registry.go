package peer

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lbryio/go-dht/bits"
)

// Registry is the single owner of Peer records, keyed by (node id, ip, udp
// port). Every lookup by identity goes through here so the same remote is
// always represented by the same *Peer object (§9's cyclic-reference design
// note).
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Peer

	ignoredMu sync.Mutex
	ignored   *lru.Cache // AddressKey -> *failureWindow
}

type failureWindow struct {
	mu        sync.Mutex
	failures  []time.Time
}

// ignoredCacheSize bounds the ignored-address LRU; eviction here is always
// the conservative direction (an evicted address simply stops being
// ignored), so a generous bound is safe.
const ignoredCacheSize = 8192

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	cache, err := lru.New(ignoredCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which ignoredCacheSize never is.
		panic(err)
	}
	return &Registry{
		byKey: make(map[string]*Peer),
		ignored: cache,
	}
}

// GetOrCreate returns the canonical Peer for (id, ip, udpPort), creating one
// if this is the first time the registry has seen this identity.
func (r *Registry) GetOrCreate(id bits.ID, ip net.IP, udpPort, tcpPort int) *Peer {
	key := registryKey(id, ip, udpPort)

	r.mu.RLock()
	p, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byKey[key]; ok {
		return p
	}
	p = New(id, ip, udpPort, tcpPort)
	r.byKey[key] = p
	return p
}

// Lookup returns the Peer for (id, ip, udpPort) if the registry already
// knows it.
func (r *Registry) Lookup(id bits.ID, ip net.IP, udpPort int) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[registryKey(id, ip, udpPort)]
	return p, ok
}

// Remove drops a peer from the registry, e.g. when it has been evicted from
// the routing table and is not otherwise referenced.
func (r *Registry) Remove(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, p.Key())
}

// Len reports the number of distinct peers the registry currently holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// RecordFailure notes a failed exchange with (ip, udpPort) for the ignored-
// address bookkeeping of SPEC_FULL.md §3.
func (r *Registry) RecordFailure(ip net.IP, udpPort int, now time.Time) {
	key := AddressKey(ip, udpPort)

	r.ignoredMu.Lock()
	defer r.ignoredMu.Unlock()

	var fw *failureWindow
	if v, ok := r.ignored.Get(key); ok {
		fw = v.(*failureWindow)
	} else {
		fw = &failureWindow{}
		r.ignored.Add(key, fw)
	}
	fw.mu.Lock()
	fw.failures = append(fw.failures, now)
	fw.mu.Unlock()
}

// IsIgnored reports whether (ip, udpPort) has accumulated more than
// threshold failures inside window, ending at now.
func (r *Registry) IsIgnored(ip net.IP, udpPort int, window time.Duration, threshold int, now time.Time) bool {
	key := AddressKey(ip, udpPort)

	r.ignoredMu.Lock()
	v, ok := r.ignored.Get(key)
	r.ignoredMu.Unlock()
	if !ok {
		return false
	}
	fw := v.(*failureWindow)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	cutoff := now.Add(-window)
	live := fw.failures[:0]
	count := 0
	for _, t := range fw.failures {
		if t.After(cutoff) {
			live = append(live, t)
			count++
		}
	}
	fw.failures = live
	return count > threshold
}
