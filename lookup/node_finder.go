package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/config"
	"github.com/lbryio/go-dht/kbucket"
	"github.com/lbryio/go-dht/peer"
	"github.com/lbryio/go-dht/protocol"
)

// Dialer is the subset of *protocol.Engine the finders need, named so tests
// can substitute a fake transport.
type Dialer interface {
	FindNode(ctx context.Context, target *peer.Peer, key bits.ID) ([]protocol.Contact, error)
	FindValue(ctx context.Context, target *peer.Peer, key bits.ID) (*protocol.FindValueResult, error)
}

// NodeFinder runs an iterative findNode lookup, used for bootstrap, bucket
// refresh, and announce targeting (SPEC_FULL.md §4.5 "Node finder").
type NodeFinder struct {
	dialer   Dialer
	registry *peer.Registry
	localID  bits.ID
	key      bits.ID
	cfg      config.Config
	isBad    func(*peer.Peer) bool
	maxResults int

	sl *shortlist
}

// NewNodeFinder builds a finder for key. If shortlistSeed is empty, the
// routing table's own closest-k peers seed the search -- the normal case;
// bootstrap instead supplies the configured seed nodes directly.
func NewNodeFinder(dialer Dialer, registry *peer.Registry, table *kbucket.Table, localID, key bits.ID, cfg config.Config, exclude []string, shortlistSeed []*peer.Peer, isBad func(*peer.Peer) bool) *NodeFinder {
	seed := shortlistSeed
	if len(seed) == 0 {
		seed = table.FindClosest(key, cfg.K, nil)
	}
	return &NodeFinder{
		dialer:     dialer,
		registry:   registry,
		localID:    localID,
		key:        key,
		cfg:        cfg,
		isBad:      isBad,
		maxResults: cfg.K,
		sl:         newShortlist(localID, key, exclude, seed),
	}
}

// Run starts the lookup and returns a channel of newly discovered peer
// batches, closest-first within each batch. The channel closes when the
// lookup terminates or ctx is cancelled.
func (f *NodeFinder) Run(ctx context.Context) <-chan []*peer.Peer {
	out := make(chan []*peer.Peer, 4)
	go func() {
		defer close(out)
		f.run(ctx, out)
	}()
	return out
}

func (f *NodeFinder) run(ctx context.Context, out chan<- []*peer.Peer) {
	bottomOutCount := 0
	for {
		if ctx.Err() != nil {
			return
		}
		batch := f.sl.popBatch(f.cfg.Alpha, f.isBad)
		if len(batch) == 0 && f.sl.candidatesLen() == 0 {
			f.emit(ctx, out, f.sl.closestActive(f.maxResults))
			return
		}

		var wg sync.WaitGroup
		var foundKey bool
		var foundMu sync.Mutex
		for _, p := range batch {
			wg.Add(1)
			go func(p *peer.Peer) {
				defer wg.Done()
				contacts, err := f.dialer.FindNode(ctx, p, f.key)
				if err != nil {
					return
				}
				f.sl.addActive(p)
				f.sl.mergeContacts(contacts, f.registry)
				for _, c := range contacts {
					if c.ID.Equal(f.key) && !f.key.Equal(f.localID) {
						foundMu.Lock()
						foundKey = true
						foundMu.Unlock()
					}
				}
			}(p)
		}
		wg.Wait()

		if f.sl.updateClosest() {
			bottomOutCount = 0
		} else {
			bottomOutCount++
		}

		if foundKey {
			f.emit(ctx, out, f.sl.closestActive(f.maxResults))
			return
		}
		if f.sl.activeLen() >= f.maxResults || bottomOutCount >= f.cfg.BottomOutLimit {
			f.emit(ctx, out, f.sl.closestActive(f.maxResults))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.IterativeLookupDelay):
		}
	}
}

func (f *NodeFinder) emit(ctx context.Context, out chan<- []*peer.Peer, batch []*peer.Peer) {
	if len(batch) == 0 {
		return
	}
	select {
	case out <- batch:
	case <-ctx.Done():
	}
}

// Find drains Run to completion and returns the final closest-k peers, the
// blocking convenience form used by peer_search-style callers.
func Find(ctx context.Context, f *NodeFinder) []*peer.Peer {
	var last []*peer.Peer
	for batch := range f.Run(ctx) {
		last = batch
	}
	return last
}
