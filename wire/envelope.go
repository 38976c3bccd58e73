// Package wire implements the DHT envelope codec: a single framing
// shared symmetrically between CBOR (binary) and JSON (text) transports.
// The composite type|method byte, transaction id, and error taxonomy follow
// the DHT wire protocol.
package wire

import (
	"fmt"

	"boson/boserr"
	"boson/types"
)

// Method identifies one of the six RPCs. Values occupy the low 5 bits of the
// envelope's composite "y" byte.
type Method uint8

const (
	MethodPing Method = iota + 1
	MethodFindNode
	MethodFindPeer
	MethodAnnouncePeer
	MethodStoreValue
	MethodFindValue
)

func (m Method) String() string {
	switch m {
	case MethodPing:
		return "PING"
	case MethodFindNode:
		return "FIND_NODE"
	case MethodFindPeer:
		return "FIND_PEER"
	case MethodAnnouncePeer:
		return "ANNOUNCE_PEER"
	case MethodStoreValue:
		return "STORE_VALUE"
	case MethodFindValue:
		return "FIND_VALUE"
	default:
		return fmt.Sprintf("METHOD(%d)", uint8(m))
	}
}

// Type is the envelope's message type, occupying the high 3 bits of "y".
type Type uint8

const (
	TypeError    Type = 0x00
	TypeRequest  Type = 0x20
	TypeResponse Type = 0x40
)

const (
	methodMask = 0x1F
	typeMask   = 0xE0
)

// Want bits requested on FIND_NODE/FIND_VALUE/FIND_PEER, matching BEP-32
// style "want" semantics: bit values are additive and sent as a single int.
const (
	WantIPv4  = 1
	WantIPv6  = 2
	WantToken = 4
)

// ErrorBody is the wire representation of an ERROR envelope body.
type ErrorBody struct {
	C int    `cbor:"c" json:"c"`
	M string `cbor:"m" json:"m"`
}

func errorBodyFrom(err *boserr.Error) ErrorBody {
	return ErrorBody{C: int(err.Code), M: err.Message}
}

func (e ErrorBody) toBosErr() *boserr.Error {
	return &boserr.Error{Code: boserr.Code(e.C), Message: e.M}
}

// RequestArgs carries the union of all named arguments across the six RPCs,
// mirroring the single flat argument struct the pack's own KRPC
// implementation uses for the same family of messages.
type RequestArgs struct {
	Id     types.Id  `cbor:"id" json:"id"`
	Target *types.Id `cbor:"target,omitempty" json:"target,omitempty"`
	Want   int        `cbor:"want,omitempty" json:"want,omitempty"`

	Token *uint32 `cbor:"token,omitempty" json:"token,omitempty"`

	Cas *int64 `cbor:"cas,omitempty" json:"cas,omitempty"`

	Value *ValueWire `cbor:"value,omitempty" json:"value,omitempty"`
	Peer  *PeerWire  `cbor:"peer,omitempty" json:"peer,omitempty"`

	// PeerId supplies the peer's id out of band when the PeerWire omits it
	// the decoder requires a peerId attribute in that case.
	PeerId *types.Id `cbor:"peerId,omitempty" json:"peerId,omitempty"`
}

// ResponseResult carries the union of all response payloads across the six
// RPCs.
type ResponseResult struct {
	Id     types.Id         `cbor:"id" json:"id"`
	Nodes4 []types.NodeInfo `cbor:"nodes4,omitempty" json:"nodes4,omitempty"`
	Nodes6 []types.NodeInfo `cbor:"nodes6,omitempty" json:"nodes6,omitempty"`
	Token  *uint32          `cbor:"token,omitempty" json:"token,omitempty"`
	Value  *ValueWire       `cbor:"value,omitempty" json:"value,omitempty"`
	Peers  []PeerWire       `cbor:"peers,omitempty" json:"peers,omitempty"`
}

// Envelope is the top-level message: y, t, one of q/r/e, and optional v.
type Envelope struct {
	Type    Type
	Method  Method
	Txid    uint32
	Version *int

	Request  *RequestArgs
	Response *ResponseResult
	Error    *ErrorBody
}

// y packs Type and Method into a single composite byte.
func (e Envelope) y() byte {
	return byte(e.Type) | byte(e.Method)&methodMask
}

func splitY(y byte) (Type, Method) {
	return Type(y & typeMask), Method(y & methodMask)
}

// NewRequest builds a REQUEST envelope.
func NewRequest(txid uint32, method Method, args RequestArgs) Envelope {
	return Envelope{Type: TypeRequest, Method: method, Txid: txid, Request: &args}
}

// NewResponse builds a RESPONSE envelope replying to a request of the given
// method and txid.
func NewResponse(txid uint32, method Method, result ResponseResult) Envelope {
	return Envelope{Type: TypeResponse, Method: method, Txid: txid, Response: &result}
}

// NewError builds an ERROR envelope replying to a request of the given
// method and txid.
func NewError(txid uint32, method Method, err *boserr.Error) Envelope {
	body := errorBodyFrom(err)
	return Envelope{Type: TypeError, Method: method, Txid: txid, Error: &body}
}

// BosErr recovers the typed error carried by an ERROR envelope, or nil if e
// is not an ERROR envelope.
func (e Envelope) BosErr() *boserr.Error {
	if e.Error == nil {
		return nil
	}
	return e.Error.toBosErr()
}

// validate enforces the body/type agreement invariant: the
// body key present must agree with Type (REQUEST↔q, RESPONSE↔r, ERROR↔e).
func (e Envelope) validate() error {
	if e.Txid == 0 {
		return boserr.Protocol("transaction id must be non-zero")
	}
	bodies := 0
	if e.Request != nil {
		bodies++
	}
	if e.Response != nil {
		bodies++
	}
	if e.Error != nil {
		bodies++
	}
	if bodies != 1 {
		return boserr.Protocol(fmt.Sprintf("envelope must carry exactly one body, found %d", bodies))
	}
	switch e.Type {
	case TypeRequest:
		if e.Request == nil {
			return boserr.Protocol("REQUEST envelope missing q body")
		}
	case TypeResponse:
		if e.Response == nil {
			return boserr.Protocol("RESPONSE envelope missing r body")
		}
	case TypeError:
		if e.Error == nil {
			return boserr.Protocol("ERROR envelope missing e body")
		}
	default:
		return boserr.Protocol(fmt.Sprintf("unknown type bits 0x%02x", byte(e.Type)))
	}
	if e.Method < MethodPing || e.Method > MethodFindValue {
		if e.Type != TypeError {
			return boserr.MethodUnknown(int(e.Method))
		}
	}
	return nil
}
