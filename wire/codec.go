package wire

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"boson/boserr"
)

// DefaultMaxMessageSize bounds a single encoded envelope; larger frames are
// rejected with a 205 MessageTooBig error before decoding is attempted.
const DefaultMaxMessageSize = 16 * 1024

// frame is the literal {y, t, q|r|e, v} envelope shape. Method
// and Type are packed into the single "y" byte; Envelope unpacks them for
// callers.
type frame struct {
	Y byte            `cbor:"y" json:"y"`
	T uint32          `cbor:"t" json:"t"`
	Q *RequestArgs    `cbor:"q,omitempty" json:"q,omitempty"`
	R *ResponseResult `cbor:"r,omitempty" json:"r,omitempty"`
	E *ErrorBody      `cbor:"e,omitempty" json:"e,omitempty"`
	V *int            `cbor:"v,omitempty" json:"v,omitempty"`
}

func (e Envelope) toFrame() frame {
	return frame{
		Y: e.y(),
		T: e.Txid,
		Q: e.Request,
		R: e.Response,
		E: e.Error,
		V: e.Version,
	}
}

func fromFrame(f frame) (Envelope, error) {
	typ, method := splitY(f.Y)
	e := Envelope{
		Type:     typ,
		Method:   method,
		Txid:     f.T,
		Version:  f.V,
		Request:  f.Q,
		Response: f.R,
		Error:    f.E,
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// CheckSize rejects oversize frames before they are decoded.
func CheckSize(data []byte, max int) error {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	if len(data) > max {
		return boserr.MessageTooBig(len(data), max)
	}
	return nil
}

// EncodeCBOR renders e as a CBOR-encoded frame (the binary wire form).
func EncodeCBOR(e Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	b, err := cbor.Marshal(e.toFrame())
	if err != nil {
		return nil, fmt.Errorf("wire: cbor encode: %w", err)
	}
	return b, nil
}

// DecodeCBOR parses a CBOR-encoded frame into an Envelope.
func DecodeCBOR(data []byte) (Envelope, error) {
	if err := CheckSize(data, DefaultMaxMessageSize); err != nil {
		return Envelope{}, err
	}
	var f frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return Envelope{}, boserr.Protocol(fmt.Sprintf("cbor decode: %v", err))
	}
	return fromFrame(f)
}

// EncodeJSON renders e as a JSON-encoded frame (the text wire form).
func EncodeJSON(e Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e.toFrame())
	if err != nil {
		return nil, fmt.Errorf("wire: json encode: %w", err)
	}
	return b, nil
}

// DecodeJSON parses a JSON-encoded frame into an Envelope.
func DecodeJSON(data []byte) (Envelope, error) {
	if err := CheckSize(data, DefaultMaxMessageSize); err != nil {
		return Envelope{}, err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Envelope{}, boserr.Protocol(fmt.Sprintf("json decode: %v", err))
	}
	return fromFrame(f)
}
