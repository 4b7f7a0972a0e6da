package dht

import (
	"context"
	"time"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/lookup"
	"github.com/lbryio/go-dht/peer"
)

// refreshLoop implements §4.7: every refresh_interval, expire stale
// announcements, find buckets overdue for refresh, run a node lookup
// against each one's midpoint, and enqueue any not-known-good peer found
// for a ping. It also rotates the token secrets every
// token_secret_refresh_interval. Grounded on original_source/lbrynet/dht/node.py's
// refresh_node, rendered as one goroutine instead of an asyncio loop.
func (n *Node) refreshLoop(ctx context.Context) {
	defer n.wg.Done()
	n.runRefreshCycle(ctx, true)
	ticker := time.NewTicker(n.cfg.RefreshInterval)
	defer ticker.Stop()
	tokenTicker := time.NewTicker(n.cfg.TokenSecretRefreshInterval)
	defer tokenTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.runRefreshCycle(ctx, false)
		case <-tokenTicker.C:
			if err := n.secrets.Rotate(); err != nil {
				n.log.Warnf("rotating token secrets: %v", err)
			}
		}
	}
}

func (n *Node) runRefreshCycle(ctx context.Context, forced bool) {
	now := n.clock.Now()
	removed := n.local.ExpireStale(now)
	if removed > 0 {
		n.log.Debugf("refresh: expired %d stale announcement keys", removed)
	}

	for _, target := range n.overdueBuckets(now, forced) {
		if ctx.Err() != nil {
			return
		}
		finder := lookup.NewNodeFinder(n.engine, n.registry, n.table, n.localID, target, n.cfg, nil, nil, n.isBadPeer)
		for batch := range finder.Run(ctx) {
			for _, p := range batch {
				if p.Liveness(now, n.cfg.RefreshInterval) != peer.Good {
					n.pq.Enqueue(p, 0)
				}
			}
		}
	}
}

// overdueBuckets returns the midpoint of every bucket whose last access
// predates refresh_interval, or -- when forced (boot time) -- every
// bucket's midpoint regardless of age, matching the original's "force
// refresh all buckets on startup" behavior.
func (n *Node) overdueBuckets(now time.Time, forced bool) []bits.ID {
	var targets []bits.ID
	for _, b := range n.table.Buckets() {
		if forced || now.Sub(b.LastAccessed()) >= n.cfg.RefreshInterval {
			targets = append(targets, b.Midpoint())
		}
	}
	return targets
}
