package wire

import (
	"fmt"

	"boson/identity"
	"boson/model"
	"boson/types"
)

// PeerWire is the wire projection of model.PeerInfo. Id may be omitted when
// a caller supplies it out-of-band via RequestArgs.PeerId; the
// decoder is responsible for splicing it back in before calling ToPeerInfo.
type PeerWire struct {
	Id             *types.Id `cbor:"id,omitempty" json:"id,omitempty"`
	Nonce          []byte    `cbor:"nonce" json:"nonce"`
	SequenceNumber int64     `cbor:"seq" json:"seq"`
	Signature      []byte    `cbor:"sig" json:"sig"`

	Endpoint    string  `cbor:"endpoint" json:"endpoint"`
	Fingerprint *int64  `cbor:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	ExtraData   []byte  `cbor:"extraData,omitempty" json:"extraData,omitempty"`

	NodeId        *types.Id `cbor:"nodeId,omitempty" json:"nodeId,omitempty"`
	NodeSignature []byte    `cbor:"nodeSig,omitempty" json:"nodeSig,omitempty"`
}

// PeerWireFrom projects a model.PeerInfo onto its wire form. omitId elides
// the id field, for contexts where the caller will supply it out-of-band.
func PeerWireFrom(p model.PeerInfo, omitId bool) PeerWire {
	w := PeerWire{
		Nonce:          p.Nonce[:],
		SequenceNumber: p.SequenceNumber,
		Signature:      p.Signature[:],
		Endpoint:       p.Endpoint,
		Fingerprint:    p.Fingerprint,
		ExtraData:      p.ExtraData,
		NodeId:         p.NodeId,
		NodeSignature:  p.NodeSignature,
	}
	if !omitId {
		id := p.Id
		w.Id = &id
	}
	return w
}

// ToPeerInfo reconstructs a model.PeerInfo. If the wire form omitted Id, the
// caller must have already set w.Id (e.g. from RequestArgs.PeerId).
func (w PeerWire) ToPeerInfo() (model.PeerInfo, error) {
	if w.Id == nil {
		return model.PeerInfo{}, fmt.Errorf("wire: peer info missing id")
	}
	if len(w.Nonce) != identity.NonceLength {
		return model.PeerInfo{}, fmt.Errorf("wire: peer nonce must be %d bytes", identity.NonceLength)
	}
	if len(w.Signature) != 64 {
		return model.PeerInfo{}, fmt.Errorf("wire: peer signature must be 64 bytes")
	}
	if (w.NodeId != nil) != (len(w.NodeSignature) > 0) {
		return model.PeerInfo{}, fmt.Errorf("wire: peer info must carry both or neither of nodeId/nodeSig")
	}
	p := model.PeerInfo{
		Id:             *w.Id,
		SequenceNumber: w.SequenceNumber,
		Endpoint:       w.Endpoint,
		Fingerprint:    w.Fingerprint,
		ExtraData:      w.ExtraData,
		NodeId:         w.NodeId,
		NodeSignature:  w.NodeSignature,
	}
	copy(p.Nonce[:], w.Nonce)
	copy(p.Signature[:], w.Signature)
	return p, nil
}
