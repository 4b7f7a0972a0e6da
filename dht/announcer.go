package dht

import (
	"context"
	"sync"
	"time"

	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/internal/metrics"
	"github.com/lbryio/go-dht/peer"
)

// announceLoop implements §4.8: drain the blob storage collaborator for
// keys due for announcement, run announceBlob on each in batches bounded by
// announcer_concurrency, then report completion back to the collaborator.
// Grounded on original_source/lbrynet/dht/blob_announcer.py's
// BlobAnnouncer._announce, with asyncio.gather batching rendered as a
// bounded worker pool.
func (n *Node) announceLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.AnnouncerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.runAnnounceCycle(ctx)
		}
	}
}

func (n *Node) runAnnounceCycle(ctx context.Context) {
	select {
	case <-n.Joined():
	case <-ctx.Done():
		return
	}

	keys := n.blobs.BlobsToAnnounce()
	metrics.SetAnnouncerQueueDepth(len(keys))
	if len(keys) == 0 {
		return
	}
	n.log.Infof("announcing %d blobs", len(keys))

	sem := make(chan struct{}, n.cfg.AnnouncerConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var announced []bits.ID

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(key bits.ID) {
			defer wg.Done()
			defer func() { <-sem }()
			nodeIDs, err := n.AnnounceBlob(ctx, key)
			if err != nil {
				n.log.Warnf("announcing blob %s: %v", key, err)
				return
			}
			if len(nodeIDs) > 0 {
				mu.Lock()
				announced = append(announced, key)
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()

	if len(announced) > 0 {
		n.blobs.UpdateLastAnnounced(announced, n.clock.Now())
		n.log.Infof("announced %d of %d blobs", len(announced), len(keys))
	}
}

// storeToPeer issues a store RPC for key to p, obtaining a token first (from
// cache, or via a findValue round trip) as original_source's
// RemoteKademliaRPC.store does.
func (n *Node) storeToPeer(ctx context.Context, key bits.ID, p *peer.Peer) bool {
	tok, ok := n.engine.CachedToken(p)
	if !ok {
		res, err := n.engine.FindValue(ctx, p, key)
		if err != nil || res.Token == nil {
			return false
		}
		tok = res.Token
	}
	if err := n.engine.Store(ctx, p, key, tok, n.localID, 0); err != nil {
		return false
	}
	return true
}
