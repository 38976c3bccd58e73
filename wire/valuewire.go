package wire

import (
	"fmt"

	"boson/identity"
	"boson/model"
	"boson/types"
)

// ValueWire is the wire projection of model.Value.
type ValueWire struct {
	Kind            uint8     `cbor:"k" json:"k"`
	Id              types.Id  `cbor:"id" json:"id"`
	PublicKey       *types.Id `cbor:"publicKey,omitempty" json:"publicKey,omitempty"`
	Nonce           []byte    `cbor:"nonce,omitempty" json:"nonce,omitempty"`
	Sequence        *int64    `cbor:"seq,omitempty" json:"seq,omitempty"`
	Signature       []byte    `cbor:"sig,omitempty" json:"sig,omitempty"`
	Recipient       *types.Id `cbor:"recipient,omitempty" json:"recipient,omitempty"`
	PublisherBoxKey *types.Id `cbor:"publisherBoxKey,omitempty" json:"publisherBoxKey,omitempty"`
	Data            []byte    `cbor:"data" json:"data"`
}

// ValueWireFrom projects a model.Value onto its wire form.
func ValueWireFrom(v model.Value) ValueWire {
	w := ValueWire{
		Kind: uint8(v.Kind),
		Id:   v.Id,
		Data: v.Data,
	}
	if v.IsMutable() {
		pk := v.PublicKey
		seq := v.Sequence
		w.PublicKey = &pk
		w.Nonce = v.Nonce[:]
		w.Sequence = &seq
		w.Signature = v.Signature[:]
	}
	if v.Kind == model.KindEncrypted {
		r := v.Recipient
		w.Recipient = &r
		bk := v.PublisherBoxKey
		w.PublisherBoxKey = &bk
	}
	return w
}

// ToValue reconstructs a model.Value from its wire form.
func (w ValueWire) ToValue() (model.Value, error) {
	v := model.Value{Kind: model.Kind(w.Kind), Id: w.Id, Data: w.Data}
	switch v.Kind {
	case model.KindImmutable:
		return v, nil
	case model.KindSigned, model.KindEncrypted:
		if w.PublicKey == nil || w.Sequence == nil {
			return model.Value{}, fmt.Errorf("wire: mutable value missing publicKey/seq")
		}
		v.PublicKey = *w.PublicKey
		v.Sequence = *w.Sequence
		if len(w.Nonce) != identity.NonceLength {
			return model.Value{}, fmt.Errorf("wire: value nonce must be %d bytes", identity.NonceLength)
		}
		copy(v.Nonce[:], w.Nonce)
		if len(w.Signature) != 64 {
			return model.Value{}, fmt.Errorf("wire: value signature must be 64 bytes")
		}
		copy(v.Signature[:], w.Signature)
		if v.Kind == model.KindEncrypted {
			if w.Recipient == nil {
				return model.Value{}, fmt.Errorf("wire: encrypted value missing recipient")
			}
			v.Recipient = *w.Recipient
			if w.PublisherBoxKey == nil {
				return model.Value{}, fmt.Errorf("wire: encrypted value missing publisherBoxKey")
			}
			v.PublisherBoxKey = *w.PublisherBoxKey
		}
		return v, nil
	default:
		return model.Value{}, fmt.Errorf("wire: unknown value kind %d", w.Kind)
	}
}
