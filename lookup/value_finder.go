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
	"github.com/lbryio/go-dht/store"
)

// ValueFinder runs an iterative findValue lookup, used to resolve blob
// peers (SPEC_FULL.md §4.5 "Value finder").
type ValueFinder struct {
	dialer     Dialer
	registry   *peer.Registry
	localID    bits.ID
	key        bits.ID
	cfg        config.Config
	isBad      func(*peer.Peer) bool
	localStore *store.Store
	clock      func() time.Time

	sl   *shortlist
	seen map[string]bool
	mu   sync.Mutex
}

// NewValueFinder builds a finder for key. localStore, if non-nil, is
// consulted for an initial locally-known batch before any network round.
func NewValueFinder(dialer Dialer, registry *peer.Registry, table *kbucket.Table, localID, key bits.ID, cfg config.Config, exclude []string, localStore *store.Store, clock func() time.Time) *ValueFinder {
	seed := table.FindClosest(key, cfg.K, nil)
	if clock == nil {
		clock = time.Now
	}
	return &ValueFinder{
		dialer:     dialer,
		registry:   registry,
		localID:    localID,
		key:        key,
		cfg:        cfg,
		localStore: localStore,
		clock:      clock,
		sl:         newShortlist(localID, key, exclude, seed),
		seen:       make(map[string]bool),
	}
}

// Run starts the lookup and returns a channel of newly discovered
// PeerAddress batches. The channel closes when the lookup bottoms out or
// ctx is cancelled.
func (f *ValueFinder) Run(ctx context.Context) <-chan []protocol.PeerAddress {
	out := make(chan []protocol.PeerAddress, 4)
	go func() {
		defer close(out)
		f.emitInitial(ctx, out)
		f.run(ctx, out)
	}()
	return out
}

func (f *ValueFinder) emitInitial(ctx context.Context, out chan<- []protocol.PeerAddress) {
	if f.localStore == nil {
		return
	}
	anns := f.localStore.Find(f.key, f.clock())
	if len(anns) == 0 {
		return
	}
	var batch []protocol.PeerAddress
	for _, a := range anns {
		ip, port, err := decodeCompactTCPAddress(a.CompactTCPAddress)
		if err != nil {
			continue
		}
		addr := protocol.PeerAddress{IP: ip, Port: port}
		if f.markSeen(addr) {
			batch = append(batch, addr)
		}
	}
	f.send(ctx, out, batch)
}

func (f *ValueFinder) markSeen(addr protocol.PeerAddress) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := addr.IP.String() + ":" + itoa(int(addr.Port))
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

func (f *ValueFinder) run(ctx context.Context, out chan<- []protocol.PeerAddress) {
	bottomOutCount := 0
	for {
		if ctx.Err() != nil {
			return
		}
		batch := f.sl.popBatch(f.cfg.Alpha, f.isBad)
		if len(batch) == 0 && f.sl.candidatesLen() == 0 {
			return
		}

		var wg sync.WaitGroup
		for _, p := range batch {
			wg.Add(1)
			go func(p *peer.Peer) {
				defer wg.Done()
				result, err := f.dialer.FindValue(ctx, p, f.key)
				if err != nil {
					return
				}
				f.sl.addActive(p)
				if result.Found {
					var fresh []protocol.PeerAddress
					for _, pa := range result.Peers {
						if f.markSeen(pa) {
							fresh = append(fresh, pa)
						}
					}
					f.send(ctx, out, fresh)
					return
				}
				f.sl.mergeContacts(result.Contacts, f.registry)
			}(p)
		}
		wg.Wait()

		if f.sl.updateClosest() {
			bottomOutCount = 0
		} else {
			bottomOutCount++
		}
		if bottomOutCount >= f.cfg.BottomOutLimit {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.IterativeLookupDelay):
		}
	}
}

func (f *ValueFinder) send(ctx context.Context, out chan<- []protocol.PeerAddress, batch []protocol.PeerAddress) {
	if len(batch) == 0 {
		return
	}
	select {
	case out <- batch:
	case <-ctx.Done():
	}
}
