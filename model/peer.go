package model

import (
	"encoding/binary"
	"fmt"

	"boson/identity"
	"boson/types"
)

// PeerInfo is a service announcement signed by a peer key. When
// NodeId and NodeSignature are both set, the announcement is authenticated:
// a DHT node has endorsed it in addition to the peer's own signature.
type PeerInfo struct {
	Id             types.Id
	Nonce          [identity.NonceLength]byte
	SequenceNumber int64
	Signature      [64]byte

	Endpoint    string
	Fingerprint *int64
	ExtraData   []byte

	NodeId        *types.Id
	NodeSignature []byte
}

func peerCanonicalBytes(nonce [identity.NonceLength]byte, seq int64, endpoint string, fingerprint *int64, extraData []byte) []byte {
	buf := make([]byte, 0, identity.NonceLength+8+8+1+len(endpoint)+len(extraData))
	buf = append(buf, nonce[:]...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], uint64(seq))
	buf = append(buf, seqBytes[:]...)
	if fingerprint != nil {
		buf = append(buf, 1)
		var fp [8]byte
		binary.BigEndian.PutUint64(fp[:], uint64(*fingerprint))
		buf = append(buf, fp[:]...)
	} else {
		buf = append(buf, 0)
	}
	var elen [4]byte
	binary.BigEndian.PutUint32(elen[:], uint32(len(endpoint)))
	buf = append(buf, elen[:]...)
	buf = append(buf, endpoint...)
	buf = append(buf, extraData...)
	return buf
}

// NewPeerInfo builds and signs a peer announcement with kp's key.
func NewPeerInfo(kp *identity.KeyPair, endpoint string, fingerprint *int64, extraData []byte, seq int64) (PeerInfo, error) {
	nonce, err := freshNonce()
	if err != nil {
		return PeerInfo{}, err
	}
	sig, err := kp.Sign(peerCanonicalBytes(nonce, seq, endpoint, fingerprint, extraData))
	if err != nil {
		return PeerInfo{}, fmt.Errorf("model: sign peer info: %w", err)
	}
	p := PeerInfo{
		Id:             kp.Id(),
		Nonce:          nonce,
		SequenceNumber: seq,
		Endpoint:       endpoint,
		Fingerprint:    fingerprint,
		ExtraData:      append([]byte(nil), extraData...),
	}
	copy(p.Signature[:], sig)
	return p, nil
}

// Authenticate endorses p with a DHT node's signature over the same
// canonical bytes, producing an authenticated announcement.
func (p PeerInfo) Authenticate(nodeKp *identity.KeyPair) (PeerInfo, error) {
	sig, err := nodeKp.Sign(peerCanonicalBytes(p.Nonce, p.SequenceNumber, p.Endpoint, p.Fingerprint, p.ExtraData))
	if err != nil {
		return PeerInfo{}, fmt.Errorf("model: node-sign peer info: %w", err)
	}
	out := p
	id := nodeKp.Id()
	out.NodeId = &id
	out.NodeSignature = append([]byte(nil), sig...)
	return out, nil
}

// IsAuthenticated reports whether p carries a node endorsement. Either both
// NodeId and NodeSignature are present, or neither is.
func (p PeerInfo) IsAuthenticated() bool {
	return p.NodeId != nil && len(p.NodeSignature) > 0
}

// IsValid recomputes the peer signature (and, if authenticated, the node
// signature) over the canonical announcement bytes.
func (p PeerInfo) IsValid() bool {
	if (p.NodeId != nil) != (len(p.NodeSignature) > 0) {
		return false
	}
	canon := peerCanonicalBytes(p.Nonce, p.SequenceNumber, p.Endpoint, p.Fingerprint, p.ExtraData)
	if !identity.Verify(p.Id, canon, p.Signature[:]) {
		return false
	}
	if p.IsAuthenticated() {
		return identity.Verify(*p.NodeId, canon, p.NodeSignature)
	}
	return true
}
