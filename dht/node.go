// Package dht is the node facade of SPEC_FULL.md §4.9: lifecycle
// (start/join/stop), the blob announcer, the refresh loop, and the three
// collaborator-facing operations (announce_blob/peer_search/
// stream_peer_search). Grounded on original_source/lbrynet/dht/node.py's
// Node class and blob_announcer.py's BlobAnnouncer, with asyncio tasks
// rendered as goroutines started from Start and stopped from Stop, per
// SPEC_FULL.md §9's single-thread-to-goroutines note.
package dht

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/collab"
	"github.com/lbryio/go-dht/config"
	"github.com/lbryio/go-dht/internal/logging"
	"github.com/lbryio/go-dht/kbucket"
	"github.com/lbryio/go-dht/lookup"
	"github.com/lbryio/go-dht/peer"
	"github.com/lbryio/go-dht/pingqueue"
	"github.com/lbryio/go-dht/protocol"
	"github.com/lbryio/go-dht/store"
	"github.com/lbryio/go-dht/token"
)

// Node is the facade a process embeds to run one DHT participant.
type Node struct {
	cfg      config.Config
	localID  bits.ID
	tcpPort  int
	engine   *protocol.Engine
	table    *kbucket.Table
	registry *peer.Registry
	local    *store.Store
	secrets  *token.Secrets
	pq       *pingqueue.Queue
	blobs    collab.BlobStorage
	resolver collab.Resolver
	clock    collab.Clock
	log      *logging.Logger

	joinedMu sync.Mutex
	joined   bool
	joinedCh chan struct{}

	lifecycleCancel context.CancelFunc
	wg              sync.WaitGroup
}

// New constructs a Node. blobs may be nil if the process never announces or
// serves blobs (a pure routing participant); resolver/clock default to the
// system implementations when nil.
func New(cfg config.Config, localID bits.ID, tcpPort int, blobs collab.BlobStorage, resolver collab.Resolver, clock collab.Clock) (*Node, error) {
	if resolver == nil {
		resolver = collab.SystemResolver{}
	}
	if clock == nil {
		clock = collab.SystemClock{}
	}

	registry := peer.NewRegistry()
	table := kbucket.New(localID, cfg.K, nil) // ping func wired in below
	localStore := store.New(cfg.DataExpiration)
	secrets, err := token.New(time.Now(), cfg.TokenSecretRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("dht: generating token secrets: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		localID:  localID,
		tcpPort:  tcpPort,
		table:    table,
		registry: registry,
		local:    localStore,
		secrets:  secrets,
		blobs:    blobs,
		resolver: resolver,
		clock:    clock,
		log:      logging.New("dht"),
		joinedCh: make(chan struct{}),
	}

	engine := protocol.New(cfg, localID, tcpPort, table, registry, localStore, blobs, clock, secrets)
	n.engine = engine
	n.table.SetPing(func(ctx context.Context, p *peer.Peer) bool { return engine.Ping(ctx, p) == nil })
	n.pq = pingqueue.New(table, engine.Ping, func(p *peer.Peer, now time.Time) bool {
		return p.Liveness(now, cfg.RefreshInterval) == peer.Good
	}, func() time.Time { return n.clock.Now() })

	return n, nil
}

// Start binds the UDP endpoint, starts the ping queue and the refresh loop.
// It does not join the network; call Join for that.
func (n *Node) Start() error {
	if err := n.engine.Listen(n.cfg.ListenAddress); err != nil {
		return fmt.Errorf("dht: listen: %w", err)
	}
	if ip := n.externalIP(); ip != nil {
		n.engine.SetSelfIP(ip)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.lifecycleCancel = cancel

	n.pq.Start(ctx)

	n.wg.Add(1)
	go n.refreshLoop(ctx)

	if n.blobs != nil {
		n.wg.Add(1)
		go n.announceLoop(ctx)
	}
	return nil
}

func (n *Node) externalIP() net.IP {
	if n.cfg.ExternalIP != "" {
		return net.ParseIP(n.cfg.ExternalIP)
	}
	host, _, err := net.SplitHostPort(n.cfg.ListenAddress)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Join resolves the configured bootstrap hosts, pings each resolved
// address, then runs a node lookup for the local node's own ID until the
// table has contacts in at least one bucket. Marks the node joined.
func (n *Node) Join(ctx context.Context) error {
	var addrs []*peer.Peer
	for _, hostPort := range n.cfg.BootstrapHosts {
		host, portStr, err := net.SplitHostPort(hostPort)
		if err != nil {
			n.log.Warnf("malformed bootstrap address %q: %v", hostPort, err)
			continue
		}
		var port int
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			n.log.Warnf("malformed bootstrap port in %q: %v", hostPort, err)
			continue
		}
		ips, err := n.resolver.Resolve(host)
		if err != nil {
			n.log.Warnf("resolving bootstrap host %s: %v", host, err)
			continue
		}
		for _, ip := range ips {
			addrs = append(addrs, peer.New(bits.Zero, ip, port, 0))
		}
	}

	var wg sync.WaitGroup
	for _, p := range addrs {
		wg.Add(1)
		go func(p *peer.Peer) {
			defer wg.Done()
			_ = n.engine.Ping(ctx, p)
		}(p)
	}
	wg.Wait()

	finder := lookup.NewNodeFinder(n.engine, n.registry, n.table, n.localID, n.localID, n.cfg, nil, addrs, n.isBadPeer)
	for range finder.Run(ctx) {
		if n.table.Count() > 0 {
			break
		}
	}

	n.joinedMu.Lock()
	if !n.joined {
		n.joined = true
		close(n.joinedCh)
	}
	n.joinedMu.Unlock()
	n.log.Infof("joined DHT, %d peers known", n.table.Count())
	return nil
}

// Joined reports whether Join has completed at least once.
func (n *Node) Joined() <-chan struct{} { return n.joinedCh }

// RoutingTableSize reports the number of contacts currently in the routing
// table, for status reporting.
func (n *Node) RoutingTableSize() int { return n.table.Count() }

func (n *Node) isBadPeer(p *peer.Peer) bool {
	return p.Liveness(n.clock.Now(), n.cfg.RefreshInterval) == peer.Bad
}

// Stop cancels the refresh loop, the announcer, and the ping queue, and
// closes the UDP endpoint; subsequent sends fail with a
// transport-not-connected error.
func (n *Node) Stop() error {
	if n.lifecycleCancel != nil {
		n.lifecycleCancel()
	}
	n.pq.Stop()
	err := n.engine.Stop()
	n.wg.Wait()
	return err
}
