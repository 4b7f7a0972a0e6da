package protocol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lbryio/go-dht/bencode"
	"github.com/lbryio/go-dht/bits"
	"github.com/lbryio/go-dht/internal/dhterr"
	"github.com/lbryio/go-dht/internal/metrics"
	"github.com/lbryio/go-dht/peer"
	"github.com/lbryio/go-dht/store"
	"github.com/lbryio/go-dht/wire"
)

// Contact is a (node id, address) triple as carried inside a findNode reply
// or a findValue reply's "contacts" fallback list.
type Contact struct {
	ID      bits.ID
	IP      net.IP
	UDPPort uint16
}

// PeerAddress is a (ip, tcp port) pair, as carried inside a findValue
// reply's matched-announcer list.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

// FindValueResult is the outcome of a findValue RPC: either Found is true
// and Peers holds the announcers, or Found is false and Contacts holds the
// closer nodes to continue the lookup with.
type FindValueResult struct {
	Found    bool
	Peers    []PeerAddress
	Contacts []Contact
	Token    []byte
}

// readLoop is the engine's single receive goroutine, grounded on the
// teacher's runBzzProtocol dispatch loop: one place decodes every inbound
// datagram and routes it to a request/response/error handler.
func (e *Engine) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, e.cfg.MaxDatagramSize)
	for {
		e.connMu.RLock()
		conn := e.conn
		e.connMu.RUnlock()
		if conn == nil {
			return
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				if e.isClosed() {
					return
				}
				e.log.Debugf("read error: %v", err)
				continue
			}
		}
		datagram := append([]byte(nil), buf[:n]...)
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		go e.handleDatagram(datagram, udpAddr)
	}
}

func (e *Engine) handleDatagram(data []byte, from *net.UDPAddr) {
	kind, req, resp, errMsg, err := wire.Decode(data)
	if err != nil {
		e.log.Debugf("malformed datagram from %s: %v", from, err)
		return
	}
	switch kind {
	case wire.KindRequest:
		e.handleRequest(req, from)
	case wire.KindResponse:
		e.handleResponse(resp, from)
	case wire.KindError:
		e.handleError(errMsg, from)
	}
}

// handleResponse and handleError implement the cross-validation rules of
// §4.3: the reply must come from the address the request was sent to, and
// may not claim the local node's own ID.
func (e *Engine) handleResponse(resp *wire.Response, from *net.UDPAddr) {
	if resp.NodeID.Equal(e.localID) {
		return
	}
	e.pendingMu.Lock()
	pr, ok := e.pending[resp.RPCID]
	if ok {
		delete(e.pending, resp.RPCID)
	}
	e.pendingMu.Unlock()
	if !ok {
		return
	}
	if !from.IP.Equal(pr.target.IP()) || from.Port != pr.target.UDPPort() {
		pr.resolve(rpcResult{err: e.errs.New(dhterr.Protocol, "response from unexpected address %s", from)})
		return
	}
	replier := e.registry.GetOrCreate(resp.NodeID, pr.target.IP(), pr.target.UDPPort(), pr.target.TCPPort())
	pr.resolve(rpcResult{resp: resp, replier: replier})
}

func (e *Engine) handleError(errMsg *wire.ErrorMsg, from *net.UDPAddr) {
	if errMsg.NodeID.Equal(e.localID) {
		return
	}
	e.pendingMu.Lock()
	pr, ok := e.pending[errMsg.RPCID]
	if ok {
		delete(e.pending, errMsg.RPCID)
	}
	e.pendingMu.Unlock()
	if !ok {
		return
	}
	if !from.IP.Equal(pr.target.IP()) || from.Port != pr.target.UDPPort() {
		pr.resolve(rpcResult{err: e.errs.New(dhterr.Protocol, "error reply from unexpected address %s", from)})
		return
	}
	pr.resolve(rpcResult{errM: errMsg})
}

// handleRequest dispatches an inbound request to the matching RPC handler
// and writes back a response or error datagram.
func (e *Engine) handleRequest(req *wire.Request, from *net.UDPAddr) {
	if req.NodeID.Equal(e.localID) {
		return // never answer a request claiming to be ourselves
	}
	now := e.clock.Now()
	contact := e.registry.GetOrCreate(req.NodeID, from.IP, from.Port, 0)

	var result interface{}
	var rpcErr *dhterr.Error

	switch req.Method {
	case wire.MethodPing:
		result = e.handlePing()
	case wire.MethodStore:
		result, rpcErr = e.handleStore(req, contact, from, now)
	case wire.MethodFindNode:
		result, rpcErr = e.handleFindNode(req, contact)
	case wire.MethodFindValue:
		result, rpcErr = e.handleFindValue(req, contact, now)
	default:
		rpcErr = dhterr.Fatal(e.errs.New(dhterr.Protocol, "unknown method %q", req.Method))
	}

	// A fatal error means the sender misbehaved (a bad store token or an
	// unknown method): log it and don't count the datagram as a liveness
	// signal for the contact. Anything else, malformed arguments included,
	// still counts as a request.
	if rpcErr != nil && rpcErr.Fatal() {
		rpcErr.Log(e.log)
	} else {
		contact.MarkRequested(now)
	}

	e.connMu.RLock()
	conn := e.conn
	e.connMu.RUnlock()
	if conn == nil {
		return
	}

	if rpcErr != nil {
		encoded, err := wire.EncodeError(&wire.ErrorMsg{RPCID: req.RPCID, NodeID: e.localID, ExceptionType: exceptionType(rpcErr.Code), Message: rpcErr.Message})
		if err == nil {
			_, _ = conn.WriteTo(encoded, from)
		}
		return
	}
	encoded, err := wire.EncodeResponse(&wire.Response{RPCID: req.RPCID, NodeID: e.localID, Result: result})
	if err != nil {
		e.log.Warnf("encoding response to %s: %v", req.Method, err)
		return
	}
	_, _ = conn.WriteTo(encoded, from)
}

func (e *Engine) handlePing() interface{} {
	return []byte("pong")
}

func (e *Engine) handleStore(req *wire.Request, contact *peer.Peer, from *net.UDPAddr, now time.Time) (interface{}, *dhterr.Error) {
	args, err := wire.ParseStoreArgs(req.Args)
	if err != nil {
		return nil, e.errs.New(dhterr.Protocol, "store: %v", err)
	}
	if !e.secrets.Verify(from.IP, args.Token, now) {
		return nil, dhterr.Fatal(e.errs.New(dhterr.Token, "store: invalid or expired token"))
	}
	ip4 := from.IP.To4()
	if ip4 == nil {
		return nil, e.errs.New(dhterr.Protocol, "store: non-IPv4 peer")
	}
	var addr [4]byte
	copy(addr[:], ip4)
	e.localStore.Store(args.BlobHash, store.Announcement{
		AnnouncingPeerID:    req.NodeID,
		CompactTCPAddress:   wire.CompactAddress(addr, uint16(args.TCPPort)),
		LastPublished:       now,
		OriginallyPublished: now.Add(-time.Duration(args.AgeSeconds) * time.Second),
		OriginalPublisherID: args.OriginalPublisherID,
	})
	metrics.Counter("store_accepted").Inc(1)
	return []byte("OK"), nil
}

func (e *Engine) handleFindNode(req *wire.Request, contact *peer.Peer) (interface{}, *dhterr.Error) {
	key, _, err := wire.ParseKeyArgs(req.Args)
	if err != nil {
		return nil, e.errs.New(dhterr.Protocol, "findNode: %v", err)
	}
	exclude := map[string]bool{contact.Key(): true}
	closest := e.table.FindClosest(key, e.cfg.K, exclude)
	return contactsToWire(closest), nil
}

func (e *Engine) handleFindValue(req *wire.Request, contact *peer.Peer, now time.Time) (interface{}, *dhterr.Error) {
	key, _, err := wire.ParseKeyArgs(req.Args)
	if err != nil {
		return nil, e.errs.New(dhterr.Protocol, "findValue: %v", err)
	}
	result := bencode.Dict{
		"token": e.secrets.Issue(contact.IP()),
	}
	announcements := e.localStore.Find(key, now)
	if e.blobs != nil && e.blobs.IsCompleted(key) && len(announcements) < e.cfg.K {
		ip4 := e.tcpSelfIP()
		if ip4 != nil {
			announcements = append(announcements, store.Announcement{
				AnnouncingPeerID:  e.localID,
				CompactTCPAddress: wire.CompactAddress(*ip4, uint16(e.tcpPort)),
				LastPublished:     now,
			})
		}
	}
	if len(announcements) > 0 {
		peers := make(bencode.List, 0, len(announcements))
		for _, a := range announcements {
			peers = append(peers, a.CompactTCPAddress)
		}
		result[key.String()] = peers
		return result, nil
	}
	exclude := map[string]bool{contact.Key(): true}
	closest := e.table.FindClosest(key, e.cfg.K, exclude)
	result["contacts"] = contactsToWire(closest)
	return result, nil
}

// exceptionType maps a raised code to the wire-visible exception type, the
// way the original surfaces the raising exception's class name so a caller
// can tell a bad token from a malformed request instead of seeing the same
// ProtocolError for both.
func exceptionType(code dhterr.Code) string {
	switch code {
	case dhterr.Token:
		return "TokenError"
	default:
		return "ProtocolError"
	}
}

// tcpSelfIP returns the node's externally reachable IPv4 address as set by
// SetSelfIP, or nil if none has been configured yet.
func (e *Engine) tcpSelfIP() *[4]byte {
	e.selfIPMu.RLock()
	defer e.selfIPMu.RUnlock()
	if e.selfIP == nil {
		return nil
	}
	ip4 := e.selfIP.To4()
	if ip4 == nil {
		return nil
	}
	var out [4]byte
	copy(out[:], ip4)
	return &out
}

func contactsToWire(contacts []*peer.Peer) bencode.List {
	out := make(bencode.List, 0, len(contacts))
	for _, p := range contacts {
		ip4 := p.IP().To4()
		if ip4 == nil {
			continue
		}
		var addr [4]byte
		copy(addr[:], ip4)
		out = append(out, wire.CompactContact(p.ID(), addr, uint16(p.UDPPort())))
	}
	return out
}

// Store issues a store RPC to target, presenting token.
func (e *Engine) Store(ctx context.Context, target *peer.Peer, blobHash bits.ID, tok []byte, originalPublisherID bits.ID, age time.Duration) error {
	args := wire.StoreArgs(blobHash, tok, e.tcpPort, originalPublisherID, int64(age.Seconds()), ProtocolVersion)
	_, err := e.Send(ctx, target, wire.MethodStore, args)
	return err
}

// FindNode issues a findNode RPC and decodes the returned contact list.
func (e *Engine) FindNode(ctx context.Context, target *peer.Peer, key bits.ID) ([]Contact, error) {
	resp, err := e.Send(ctx, target, wire.MethodFindNode, wire.FindNodeArgs(key, ProtocolVersion))
	if err != nil {
		return nil, err
	}
	list, ok := resp.Result.(bencode.List)
	if !ok {
		return nil, fmt.Errorf("protocol: findNode: malformed reply from %s", target)
	}
	return decodeContacts(list), nil
}

// FindValue issues a findValue RPC and decodes either the matched
// announcers or the fallback contact list, per §4.2's ad-hoc shape.
func (e *Engine) FindValue(ctx context.Context, target *peer.Peer, key bits.ID) (*FindValueResult, error) {
	resp, err := e.Send(ctx, target, wire.MethodFindValue, wire.FindValueArgs(key, ProtocolVersion))
	if err != nil {
		return nil, err
	}
	dict, ok := resp.Result.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("protocol: findValue: malformed reply from %s", target)
	}
	result := &FindValueResult{}
	if tok, ok := dict["token"].([]byte); ok {
		e.cacheToken(target, tok)
		result.Token = tok
	}
	if peersRaw, ok := dict[key.String()].(bencode.List); ok {
		result.Found = true
		for _, v := range peersRaw {
			b, ok := v.([]byte)
			if !ok {
				continue
			}
			ip, port, err := wire.DecodeCompactAddress(b)
			if err != nil {
				continue
			}
			result.Peers = append(result.Peers, PeerAddress{IP: net.IP(ip[:]), Port: port})
		}
		return result, nil
	}
	if contactsRaw, ok := dict["contacts"].(bencode.List); ok {
		result.Contacts = decodeContacts(contactsRaw)
	}
	return result, nil
}

func decodeContacts(list bencode.List) []Contact {
	out := make([]Contact, 0, len(list))
	for _, v := range list {
		id, ip, port, err := wire.DecodeCompactContact(v)
		if err != nil {
			continue
		}
		out = append(out, Contact{ID: id, IP: net.IP(ip[:]), UDPPort: port})
	}
	return out
}
