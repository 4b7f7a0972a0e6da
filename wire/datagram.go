// Package wire frames the four RPC message kinds of SPEC_FULL.md §4.2 on
// top of the bencode codec: Request, Response, and Error datagrams, each a
// dict keyed by positional decimal-string indices, plus the per-method
// argument shapes (the "ad-hoc dynamic typing" design note in §9, rendered
// as one Go struct per method rather than a generic interface{} blob).
package wire

import (
	"fmt"

	"github.com/lbryio/go-dht/bencode"
	"github.com/lbryio/go-dht/bits"
)

// Kind is the datagram's message kind.
type Kind int64

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
	KindError    Kind = 2
)

// RPCIDLength is the width, in bytes, of an RPC correlation ID -- distinct
// from bits.Length, the 384-bit node/key ID width.
const RPCIDLength = 20

// RPCID is a 20-byte correlation ID generated fresh for every outbound RPC.
type RPCID [RPCIDLength]byte

// Method names, exactly as they appear on the wire.
const (
	MethodPing      = "ping"
	MethodStore     = "store"
	MethodFindNode  = "findNode"
	MethodFindValue = "findValue"
)

// Request is a kind-0 datagram: (0, rpc_id, sender_node_id, method, args).
type Request struct {
	RPCID  RPCID
	NodeID bits.ID
	Method string
	Args   bencode.List
}

// Response is a kind-1 datagram: (1, rpc_id, sender_node_id, result).
type Response struct {
	RPCID  RPCID
	NodeID bits.ID
	Result interface{}
}

// ErrorMsg is a kind-2 datagram: (2, rpc_id, sender_node_id, exception_type, message).
type ErrorMsg struct {
	RPCID         RPCID
	NodeID        bits.ID
	ExceptionType string
	Message       string
}

// EncodeRequest serializes a Request datagram.
func EncodeRequest(r *Request) ([]byte, error) {
	return bencode.Encode(bencode.Dict{
		"0": int64(KindRequest),
		"1": r.RPCID[:],
		"2": r.NodeID.Bytes(),
		"3": []byte(r.Method),
		"4": r.Args,
	})
}

// EncodeResponse serializes a Response datagram.
func EncodeResponse(r *Response) ([]byte, error) {
	return bencode.Encode(bencode.Dict{
		"0": int64(KindResponse),
		"1": r.RPCID[:],
		"2": r.NodeID.Bytes(),
		"3": r.Result,
	})
}

// EncodeError serializes an Error datagram.
func EncodeError(e *ErrorMsg) ([]byte, error) {
	return bencode.Encode(bencode.Dict{
		"0": int64(KindError),
		"1": e.RPCID[:],
		"2": e.NodeID.Bytes(),
		"3": []byte(e.ExceptionType),
		"4": []byte(e.Message),
	})
}

// Decode parses any of the three datagram kinds and returns exactly one of
// the three result pointers non-nil, selected by the datagram's kind field.
func Decode(data []byte) (kind Kind, req *Request, resp *Response, errMsg *ErrorMsg, err error) {
	dict, err := bencode.Decode(data)
	if err != nil {
		return 0, nil, nil, nil, fmt.Errorf("wire: decode: %w", err)
	}

	kindVal, ok := dict["0"].(int64)
	if !ok {
		return 0, nil, nil, nil, fmt.Errorf("wire: missing or malformed kind field")
	}
	kind = Kind(kindVal)

	rpcIDBytes, ok := dict["1"].([]byte)
	if !ok || len(rpcIDBytes) != RPCIDLength {
		return 0, nil, nil, nil, fmt.Errorf("wire: malformed rpc id")
	}
	var rpcID RPCID
	copy(rpcID[:], rpcIDBytes)

	nodeIDBytes, ok := dict["2"].([]byte)
	if !ok {
		return 0, nil, nil, nil, fmt.Errorf("wire: malformed node id")
	}
	nodeID, err := bits.FromBytes(nodeIDBytes)
	if err != nil {
		return 0, nil, nil, nil, fmt.Errorf("wire: node id: %w", err)
	}

	switch kind {
	case KindRequest:
		method, ok := dict["3"].([]byte)
		if !ok {
			return 0, nil, nil, nil, fmt.Errorf("wire: malformed method")
		}
		args, ok := dict["4"].(bencode.List)
		if !ok {
			return 0, nil, nil, nil, fmt.Errorf("wire: malformed args")
		}
		return kind, &Request{RPCID: rpcID, NodeID: nodeID, Method: string(method), Args: args}, nil, nil, nil

	case KindResponse:
		return kind, nil, &Response{RPCID: rpcID, NodeID: nodeID, Result: dict["3"]}, nil, nil

	case KindError:
		exType, _ := dict["3"].([]byte)
		msg, _ := dict["4"].([]byte)
		return kind, nil, nil, &ErrorMsg{RPCID: rpcID, NodeID: nodeID, ExceptionType: string(exType), Message: string(msg)}, nil

	default:
		return 0, nil, nil, nil, fmt.Errorf("wire: unknown datagram kind %d", kindVal)
	}
}

// trailingVersionDict builds the trailing dict every argument list ends
// with, appending protocolVersion if the caller did not already supply one
// (§4.2: "senders must append this dict if callers did not").
func trailingVersionDict(extra bencode.Dict, protocolVersion int64) bencode.Dict {
	d := bencode.Dict{}
	for k, v := range extra {
		d[k] = v
	}
	if _, ok := d["protocolVersion"]; !ok {
		d["protocolVersion"] = protocolVersion
	}
	return d
}

// PingArgs builds the argument list for a ping request: just the trailing
// protocol-version dict.
func PingArgs(protocolVersion int64) bencode.List {
	return bencode.List{trailingVersionDict(nil, protocolVersion)}
}

// StoreArgs builds the argument list for a store request.
func StoreArgs(blobHash bits.ID, token []byte, tcpPort int, originalPublisherID bits.ID, ageSeconds int64, protocolVersion int64) bencode.List {
	return bencode.List{
		blobHash.Bytes(),
		token,
		int64(tcpPort),
		originalPublisherID.Bytes(),
		ageSeconds,
		trailingVersionDict(nil, protocolVersion),
	}
}

// FindNodeArgs builds the argument list for a findNode request.
func FindNodeArgs(key bits.ID, protocolVersion int64) bencode.List {
	return bencode.List{key.Bytes(), trailingVersionDict(nil, protocolVersion)}
}

// FindValueArgs builds the argument list for a findValue request.
func FindValueArgs(key bits.ID, protocolVersion int64) bencode.List {
	return bencode.List{key.Bytes(), trailingVersionDict(nil, protocolVersion)}
}

// ParsedStoreArgs is the decoded, validated form of a store request's args.
type ParsedStoreArgs struct {
	BlobHash            bits.ID
	Token               []byte
	TCPPort             int
	OriginalPublisherID bits.ID
	AgeSeconds          int64
	ProtocolVersion     int64
}

// ParseStoreArgs validates and decodes a store request's positional args,
// rejecting any shape other than the five-positional form of §4.2 (the
// legacy {token, lbryid, port} dict shape is not accepted -- see DESIGN.md's
// Open Question decision).
func ParseStoreArgs(args bencode.List) (*ParsedStoreArgs, error) {
	if len(args) != 6 {
		return nil, fmt.Errorf("wire: store: expected 6 args, got %d", len(args))
	}
	blobHashBytes, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("wire: store: malformed blob hash")
	}
	blobHash, err := bits.FromBytes(blobHashBytes)
	if err != nil {
		return nil, fmt.Errorf("wire: store: blob hash: %w", err)
	}
	token, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("wire: store: malformed token")
	}
	tcpPort, ok := args[2].(int64)
	if !ok {
		return nil, fmt.Errorf("wire: store: malformed tcp port")
	}
	publisherBytes, ok := args[3].([]byte)
	if !ok {
		return nil, fmt.Errorf("wire: store: malformed original publisher id")
	}
	publisher, err := bits.FromBytes(publisherBytes)
	if err != nil {
		return nil, fmt.Errorf("wire: store: original publisher id: %w", err)
	}
	age, ok := args[4].(int64)
	if !ok {
		return nil, fmt.Errorf("wire: store: malformed age")
	}
	trailing, ok := args[5].(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("wire: store: malformed trailing dict")
	}
	version, _ := trailing["protocolVersion"].(int64)

	return &ParsedStoreArgs{
		BlobHash:            blobHash,
		Token:               token,
		TCPPort:             int(tcpPort),
		OriginalPublisherID: publisher,
		AgeSeconds:          age,
		ProtocolVersion:     version,
	}, nil
}

// ParseKeyArgs validates and decodes a findNode/findValue request's args,
// both of which share the (key, trailing-dict) shape.
func ParseKeyArgs(args bencode.List) (key bits.ID, protocolVersion int64, err error) {
	if len(args) != 2 {
		return bits.Zero, 0, fmt.Errorf("wire: expected 2 args, got %d", len(args))
	}
	keyBytes, ok := args[0].([]byte)
	if !ok {
		return bits.Zero, 0, fmt.Errorf("wire: malformed key")
	}
	key, err = bits.FromBytes(keyBytes)
	if err != nil {
		return bits.Zero, 0, fmt.Errorf("wire: key: %w", err)
	}
	trailing, ok := args[1].(bencode.Dict)
	if !ok {
		return bits.Zero, 0, fmt.Errorf("wire: malformed trailing dict")
	}
	version, _ := trailing["protocolVersion"].(int64)
	return key, version, nil
}

// CompactAddress encodes an IPv4 address and port into the fixed-width form
// used inside findValue replies: 4 bytes of IP followed by 2 bytes of
// big-endian port.
func CompactAddress(ip [4]byte, port uint16) []byte {
	out := make([]byte, 6)
	copy(out, ip[:])
	out[4] = byte(port >> 8)
	out[5] = byte(port)
	return out
}

// DecodeCompactAddress reverses CompactAddress.
func DecodeCompactAddress(b []byte) (ip [4]byte, port uint16, err error) {
	if len(b) != 6 {
		return ip, 0, fmt.Errorf("wire: compact address must be 6 bytes, got %d", len(b))
	}
	copy(ip[:], b[:4])
	port = uint16(b[4])<<8 | uint16(b[5])
	return ip, port, nil
}

// CompactContact encodes a (node id, address bytes, udp port) close-peer
// triple as it appears in findNode replies and findValue "contacts" lists.
func CompactContact(id bits.ID, ip [4]byte, udpPort uint16) bencode.List {
	return bencode.List{id.Bytes(), ip[:], int64(udpPort)}
}

// DecodeCompactContact reverses CompactContact.
func DecodeCompactContact(v interface{}) (id bits.ID, ip [4]byte, udpPort uint16, err error) {
	list, ok := v.(bencode.List)
	if !ok || len(list) != 3 {
		return bits.Zero, ip, 0, fmt.Errorf("wire: malformed contact triple")
	}
	idBytes, ok := list[0].([]byte)
	if !ok {
		return bits.Zero, ip, 0, fmt.Errorf("wire: malformed contact id")
	}
	id, err = bits.FromBytes(idBytes)
	if err != nil {
		return bits.Zero, ip, 0, err
	}
	ipBytes, ok := list[1].([]byte)
	if !ok || len(ipBytes) != 4 {
		return bits.Zero, ip, 0, fmt.Errorf("wire: malformed contact ip")
	}
	copy(ip[:], ipBytes)
	port, ok := list[2].(int64)
	if !ok {
		return bits.Zero, ip, 0, fmt.Errorf("wire: malformed contact port")
	}
	return id, ip, uint16(port), nil
}
