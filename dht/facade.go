package dht

import (
	"context"
	"sync"
	"time"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/lookup"
	"github.com/lbryio/go-dht/peer"
	"github.com/lbryio/go-dht/protocol"
)

// PeerSearch runs an iterative node lookup for nodeID and returns the count
// closest peers found, SPEC_FULL.md §4.9.
func (n *Node) PeerSearch(ctx context.Context, nodeID bits.ID, count int) ([]*peer.Peer, error) {
	finder := lookup.NewNodeFinder(n.engine, n.registry, n.table, n.localID, nodeID, n.cfg, nil, nil, n.isBadPeer)
	peers := lookup.Find(ctx, finder)
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers, nil
}

// AnnounceBlob announces blobHash to the network: it repeats peer_search
// followed by store until at least one peer accepts the store, returning the
// node IDs of every peer that did, per original_source's announce_blob
// retry-until-success loop.
func (n *Node) AnnounceBlob(ctx context.Context, blobHash bits.ID) ([]bits.ID, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		peers, err := n.PeerSearch(ctx, blobHash, n.cfg.K)
		if err != nil {
			return nil, err
		}
		if len(peers) == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(n.cfg.IterativeLookupDelay):
			}
			continue
		}

		var mu sync.Mutex
		var acceptedBy []bits.ID
		var wg sync.WaitGroup
		for _, p := range peers {
			wg.Add(1)
			go func(p *peer.Peer) {
				defer wg.Done()
				if n.storeToPeer(ctx, blobHash, p) {
					mu.Lock()
					acceptedBy = append(acceptedBy, p.ID())
					mu.Unlock()
				}
			}(p)
		}
		wg.Wait()

		if len(acceptedBy) > 0 {
			return acceptedBy, nil
		}
	}
}

// StreamPeerSearch multiplexes a value lookup for every key arriving on
// keys into a single output sequence of peer batches. Keys may continue to
// arrive on the input channel while earlier lookups are still running; the
// output closes once keys is closed and every in-flight lookup has finished.
func (n *Node) StreamPeerSearch(ctx context.Context, keys <-chan bits.ID) <-chan []protocol.PeerAddress {
	out := make(chan []protocol.PeerAddress)
	go func() {
		defer close(out)
		var wg sync.WaitGroup
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case key, ok := <-keys:
				if !ok {
					wg.Wait()
					return
				}
				wg.Add(1)
				go func(key bits.ID) {
					defer wg.Done()
					finder := lookup.NewValueFinder(n.engine, n.registry, n.table, n.localID, key, n.cfg, nil, n.local, n.clock.Now)
					for batch := range finder.Run(ctx) {
						select {
						case out <- batch:
						case <-ctx.Done():
							return
						}
					}
				}(key)
			}
		}
	}()
	return out
}
