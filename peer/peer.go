// Package peer holds the per-remote state the DHT tracks: identity, liveness
// timestamps, and the derived good/bad/unknown classification used by the
// routing table and the iterative finder. Grounded on the teacher's
// NodeRecord/Node pair (common/kademlia/kademlia.go) and on the liveness
// rules of original_source/lbrynet/peer.py.
package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lbryio/go-dht/bits"
)

// Liveness is the tri-state classification of SPEC_FULL.md §3.
type Liveness int

const (
	Unknown Liveness = iota
	Good
	Bad
)

func (l Liveness) String() string {
	switch l {
	case Good:
		return "good"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// Peer is the canonical record for one remote DHT participant. Other
// components hold a *Peer pointer (the routing table) or only its ID and
// address, never a copy of this struct, so that mutation of liveness fields
// is visible everywhere the record is referenced.
type Peer struct {
	mu sync.RWMutex

	id      bits.ID
	ip      net.IP
	udpPort int
	tcpPort int

	protocolVersion int

	lastReplied   time.Time
	lastRequested time.Time
	lastFailed    time.Time
	lastSent      time.Time

	failuresSinceReply int
}

// New constructs a Peer record outside the registry. Registry uses it for
// canonical records; the dht package uses it for identity-less bootstrap
// placeholders, and tests use it to build standalone peers.
func New(id bits.ID, ip net.IP, udpPort, tcpPort int) *Peer {
	return &Peer{id: id, ip: ip, udpPort: udpPort, tcpPort: tcpPort}
}

func (p *Peer) ID() bits.ID      { return p.id }
func (p *Peer) IP() net.IP       { return p.ip }
func (p *Peer) UDPPort() int     { return p.udpPort }
func (p *Peer) TCPPort() int     { return p.tcpPort }

// Key returns the canonical registry key for this peer: (id, ip, udp port).
func (p *Peer) Key() string {
	return registryKey(p.id, p.ip, p.udpPort)
}

func registryKey(id bits.ID, ip net.IP, udpPort int) string {
	return fmt.Sprintf("%s/%s:%d", id.String(), ip.String(), udpPort)
}

// AddressKey identifies an (ip, udp port) pair independent of node ID, used
// for the ignored-address bookkeeping in SPEC_FULL.md §3.
func AddressKey(ip net.IP, udpPort int) string {
	return fmt.Sprintf("%s:%d", ip.String(), udpPort)
}

func (p *Peer) MarkSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSent = time.Now()
}

func (p *Peer) MarkReplied(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReplied = now
	p.failuresSinceReply = 0
}

func (p *Peer) MarkRequested(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRequested = now
}

func (p *Peer) MarkFailed(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFailed = now
	p.failuresSinceReply++
}

func (p *Peer) SetProtocolVersion(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protocolVersion = v
}

func (p *Peer) ProtocolVersion() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.protocolVersion
}

func (p *Peer) SetTCPPort(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tcpPort = port
}

// LastReplied, LastRequested, LastFailed report the raw timestamps used by
// the classification in Liveness and by the ping queue / refresh loop.
func (p *Peer) LastReplied() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastReplied
}

func (p *Peer) LastRequested() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRequested
}

func (p *Peer) LastFailed() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastFailed
}

// Liveness derives the tri-state classification of SPEC_FULL.md §3:
//   - good: replied within the refresh window, or has ever replied and has
//     requested within the window;
//   - bad: two or more failures since the last reply, or any failure after
//     the most recent reply;
//   - unknown: anything else.
func (p *Peer) Liveness(now time.Time, refreshWindow time.Duration) Liveness {
	p.mu.RLock()
	defer p.mu.RUnlock()

	repliedRecently := !p.lastReplied.IsZero() && now.Sub(p.lastReplied) < refreshWindow
	requestedRecently := !p.lastRequested.IsZero() && now.Sub(p.lastRequested) < refreshWindow
	hasEverReplied := !p.lastReplied.IsZero()

	failedAfterReply := hasEverReplied && p.lastFailed.After(p.lastReplied)

	if p.failuresSinceReply >= 2 || failedAfterReply {
		return Bad
	}
	if repliedRecently || (hasEverReplied && requestedRecently) {
		return Good
	}
	return Unknown
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s@%s:%d", p.id, p.ip, p.udpPort)
}
