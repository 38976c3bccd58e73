// Package dispatch implements the inbound message dispatcher: it
// validates decoded requests and routes them to their handler, producing a
// RESPONSE or ERROR envelope for every request.
package dispatch

import (
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"boson/boserr"
	"boson/routing"
	"boson/storage"
	"boson/token"
	"boson/types"
	"boson/wire"
)

var log = logrus.WithField("component", "dispatch")

// SetLogOutput redirects this package's log output, for embedding
// applications that want to route dispatch logs somewhere other than
// stderr.
func SetLogOutput(w io.Writer) {
	log.Logger.SetOutput(w)
}

// Config carries the tunables a Dispatcher needs from the node's
// configuration (K and the value/peer max ages).
type Config struct {
	K           int
	MaxPeerAge  time.Duration
	MaxValueAge time.Duration
}

// Dispatcher routes decoded inbound requests to their handler and returns
// the envelope to send back. It owns no transport: the node controller is
// responsible for encoding and sending whatever HandleRequest returns.
type Dispatcher struct {
	cfg    Config
	self   types.Id
	table  *routing.Table
	store  *storage.Store
	tokens *token.Manager
	now    func() time.Time
}

// New creates a Dispatcher bound to the given routing table, store, and
// token manager, representing a node whose own id is self.
func New(cfg Config, self types.Id, table *routing.Table, store *storage.Store, tokens *token.Manager, now func() time.Time) *Dispatcher {
	if cfg.K <= 0 {
		cfg.K = 8
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{cfg: cfg, self: self, table: table, store: store, tokens: tokens, now: now}
}

// HandleRequest dispatches a decoded REQUEST envelope from remoteAddr and
// returns the RESPONSE or ERROR envelope to send back.
func (d *Dispatcher) HandleRequest(remoteAddr string, req wire.Envelope) wire.Envelope {
	if req.Request == nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol("request envelope missing q body"))
	}
	switch req.Method {
	case wire.MethodPing:
		return d.handlePing(req)
	case wire.MethodFindNode:
		return d.handleFindNode(remoteAddr, req)
	case wire.MethodFindValue:
		return d.handleFindValue(remoteAddr, req)
	case wire.MethodStoreValue:
		return d.handleStoreValue(remoteAddr, req)
	case wire.MethodFindPeer:
		return d.handleFindPeer(remoteAddr, req)
	case wire.MethodAnnouncePeer:
		return d.handleAnnouncePeer(remoteAddr, req)
	default:
		return wire.NewError(req.Txid, req.Method, boserr.MethodUnknown(int(req.Method)))
	}
}

func (d *Dispatcher) handlePing(req wire.Envelope) wire.Envelope {
	return wire.NewResponse(req.Txid, req.Method, wire.ResponseResult{Id: d.self})
}

// splitByFamily partitions nodes into IPv4/IPv6 buckets per the requested
// want bits (BEP-32-style want flags).
func splitByFamily(nodes []types.NodeInfo, want int) (v4, v6 []types.NodeInfo) {
	wantV4 := want == 0 || want&wire.WantIPv4 != 0
	wantV6 := want&wire.WantIPv6 != 0
	for _, n := range nodes {
		ip := net.ParseIP(n.Host)
		isV4 := ip == nil || ip.To4() != nil
		if isV4 && wantV4 {
			v4 = append(v4, n)
		} else if !isV4 && wantV6 {
			v6 = append(v6, n)
		}
	}
	return v4, v6
}

func (d *Dispatcher) handleFindNode(remoteAddr string, req wire.Envelope) wire.Envelope {
	args := req.Request
	if args.Target == nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol("FIND_NODE requires a target"))
	}
	nodes := d.table.Closest(*args.Target, d.cfg.K)
	v4, v6 := splitByFamily(nodes, args.Want)
	result := wire.ResponseResult{Id: d.self, Nodes4: v4, Nodes6: v6}
	if args.Want&wire.WantToken != 0 {
		tok := d.tokens.Issue(remoteAddr, args.Id, *args.Target)
		result.Token = &tok
	}
	return wire.NewResponse(req.Txid, req.Method, result)
}

func (d *Dispatcher) handleFindValue(remoteAddr string, req wire.Envelope) wire.Envelope {
	args := req.Request
	if args.Target == nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol("FIND_VALUE requires a target"))
	}
	result := wire.ResponseResult{Id: d.self}
	if v, ok := d.store.GetValue(*args.Target, d.now(), d.cfg.MaxValueAge); ok {
		if args.Cas == nil || !v.IsMutable() || v.Sequence > *args.Cas {
			vw := wire.ValueWireFrom(v)
			result.Value = &vw
		}
	}
	if result.Value == nil {
		nodes := d.table.Closest(*args.Target, d.cfg.K)
		v4, v6 := splitByFamily(nodes, args.Want)
		result.Nodes4, result.Nodes6 = v4, v6
		if args.Want&wire.WantToken != 0 {
			tok := d.tokens.Issue(remoteAddr, args.Id, *args.Target)
			result.Token = &tok
		}
	}
	return wire.NewResponse(req.Txid, req.Method, result)
}

func (d *Dispatcher) handleStoreValue(remoteAddr string, req wire.Envelope) wire.Envelope {
	args := req.Request
	if args.Target == nil || args.Value == nil || args.Token == nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol("STORE_VALUE requires target, value, and token"))
	}
	if !d.tokens.Validate(*args.Token, remoteAddr, args.Id, *args.Target) {
		return wire.NewError(req.Txid, req.Method, boserr.InvalidToken())
	}
	v, err := args.Value.ToValue()
	if err != nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol(err.Error()))
	}
	if !v.IsValid() {
		return wire.NewError(req.Txid, req.Method, boserr.InvalidSignature("store value signature does not verify"))
	}
	hasExpectedSeq := args.Cas != nil
	var expectedSeq int64
	if hasExpectedSeq {
		expectedSeq = *args.Cas
	}
	if err := d.store.PutValue(v, expectedSeq, hasExpectedSeq, false, d.now()); err != nil {
		log.WithError(err).Debug("dispatch: rejecting STORE_VALUE")
		if be, ok := err.(*boserr.Error); ok {
			return wire.NewError(req.Txid, req.Method, be)
		}
		return wire.NewError(req.Txid, req.Method, boserr.Generic(err.Error()))
	}
	return wire.NewResponse(req.Txid, req.Method, wire.ResponseResult{Id: d.self})
}

func (d *Dispatcher) handleFindPeer(remoteAddr string, req wire.Envelope) wire.Envelope {
	args := req.Request
	if args.Target == nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol("FIND_PEER requires a target"))
	}
	peers := d.store.GetPeersForService(*args.Target, d.cfg.K, d.cfg.MaxPeerAge, d.now())
	result := wire.ResponseResult{Id: d.self}
	if len(peers) > 0 {
		wires := make([]wire.PeerWire, len(peers))
		for i, p := range peers {
			wires[i] = wire.PeerWireFrom(p, false)
		}
		result.Peers = wires
	} else {
		nodes := d.table.Closest(*args.Target, d.cfg.K)
		v4, v6 := splitByFamily(nodes, args.Want)
		result.Nodes4, result.Nodes6 = v4, v6
		if args.Want&wire.WantToken != 0 {
			tok := d.tokens.Issue(remoteAddr, args.Id, *args.Target)
			result.Token = &tok
		}
	}
	return wire.NewResponse(req.Txid, req.Method, result)
}

func (d *Dispatcher) handleAnnouncePeer(remoteAddr string, req wire.Envelope) wire.Envelope {
	args := req.Request
	if args.Target == nil || args.Peer == nil || args.Token == nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol("ANNOUNCE_PEER requires target, peer, and token"))
	}
	if !d.tokens.Validate(*args.Token, remoteAddr, args.Id, *args.Target) {
		return wire.NewError(req.Txid, req.Method, boserr.InvalidToken())
	}
	peerWire := *args.Peer
	if peerWire.Id == nil {
		if args.PeerId == nil {
			return wire.NewError(req.Txid, req.Method, boserr.Protocol("ANNOUNCE_PEER peer omits id with no peerId fallback"))
		}
		peerWire.Id = args.PeerId
	}
	p, err := peerWire.ToPeerInfo()
	if err != nil {
		return wire.NewError(req.Txid, req.Method, boserr.Protocol(err.Error()))
	}
	if !p.IsValid() {
		return wire.NewError(req.Txid, req.Method, boserr.InvalidSignature("peer announcement signature does not verify"))
	}
	if err := d.store.PutPeer(*args.Target, p, true, d.now()); err != nil {
		log.WithError(err).Debug("dispatch: rejecting ANNOUNCE_PEER")
		if be, ok := err.(*boserr.Error); ok {
			return wire.NewError(req.Txid, req.Method, be)
		}
		return wire.NewError(req.Txid, req.Method, boserr.Generic(err.Error()))
	}
	return wire.NewResponse(req.Txid, req.Method, wire.ResponseResult{Id: d.self})
}
