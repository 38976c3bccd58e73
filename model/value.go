// Package model implements the self-validating Value and PeerInfo records of
// the DHT's data model: immutable, signed-mutable, and
// encrypted-mutable values, and signed peer announcements.
package model

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"boson/identity"
	"boson/types"
)

// Kind tags which of the three Value variants a record is.
type Kind uint8

const (
	KindImmutable Kind = iota
	KindSigned
	KindEncrypted
)

func (k Kind) String() string {
	switch k {
	case KindImmutable:
		return "immutable"
	case KindSigned:
		return "signed"
	case KindEncrypted:
		return "encrypted"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the three value variants: immutable, signed,
// and encrypted. Fields not meaningful for a given Kind are left zero.
type Value struct {
	Kind Kind

	// Id is the storage key: SHA-256(Data) for Immutable, PublicKey for
	// Signed and Encrypted.
	Id types.Id

	// PublicKey, Nonce, Sequence, Signature apply to Signed and Encrypted.
	PublicKey types.Id
	Nonce     [identity.NonceLength]byte
	Sequence  int64
	Signature [64]byte

	// Recipient is set only for Encrypted values.
	Recipient types.Id

	// PublisherBoxKey is the publisher's box public key, set only for
	// Encrypted values. The box key pair is independent of the Ed25519
	// signing identity (PublicKey/Id), so it must travel on the value
	// itself for a remote recipient to derive the same box shared secret
	// the publisher sealed the data under.
	PublisherBoxKey types.Id

	// Data is the payload: plaintext for Immutable/Signed, ciphertext for
	// Encrypted.
	Data []byte
}

// NewImmutable builds an immutable value whose Id is the digest of data.
func NewImmutable(data []byte) Value {
	return Value{
		Kind: KindImmutable,
		Id:   types.DigestId(data),
		Data: append([]byte(nil), data...),
	}
}

func freshNonce() ([identity.NonceLength]byte, error) {
	var n [identity.NonceLength]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("model: read nonce: %w", err)
	}
	return n, nil
}

func signedPayload(nonce [identity.NonceLength]byte, seq int64, data []byte) []byte {
	buf := make([]byte, 0, identity.NonceLength+8+len(data))
	buf = append(buf, nonce[:]...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], uint64(seq))
	buf = append(buf, seqBytes[:]...)
	buf = append(buf, data...)
	return buf
}

// NewSigned builds a signed-mutable value over plain, at sequence seq.
func NewSigned(kp *identity.KeyPair, plain []byte, seq int64) (Value, error) {
	nonce, err := freshNonce()
	if err != nil {
		return Value{}, err
	}
	sig, err := kp.Sign(signedPayload(nonce, seq, plain))
	if err != nil {
		return Value{}, fmt.Errorf("model: sign value: %w", err)
	}
	v := Value{
		Kind:      KindSigned,
		Id:        kp.Id(),
		PublicKey: kp.Id(),
		Nonce:     nonce,
		Sequence:  seq,
		Data:      append([]byte(nil), plain...),
	}
	copy(v.Signature[:], sig)
	return v, nil
}

// NewEncrypted builds an encrypted-mutable value: plain is sealed for
// recipient under a fresh nonce, then the ciphertext is signed the same way
// a signed-mutable value is.
func NewEncrypted(kp *identity.KeyPair, recipient types.Id, plain []byte, seq int64) (Value, error) {
	nonce, err := freshNonce()
	if err != nil {
		return Value{}, err
	}
	cipher, err := kp.Encrypt(recipient, nonce, plain)
	if err != nil {
		return Value{}, fmt.Errorf("model: encrypt value: %w", err)
	}
	sig, err := kp.Sign(signedPayload(nonce, seq, cipher))
	if err != nil {
		return Value{}, fmt.Errorf("model: sign value: %w", err)
	}
	v := Value{
		Kind:            KindEncrypted,
		Id:              kp.Id(),
		PublicKey:       kp.Id(),
		Nonce:           nonce,
		Sequence:        seq,
		Recipient:       recipient,
		PublisherBoxKey: kp.BoxPub,
		Data:            append([]byte(nil), cipher...),
	}
	copy(v.Signature[:], sig)
	return v, nil
}

// IsValid recomputes the cryptographic check appropriate to v.Kind.
func (v Value) IsValid() bool {
	switch v.Kind {
	case KindImmutable:
		return v.Id == types.DigestId(v.Data)
	case KindSigned, KindEncrypted:
		if v.Id != v.PublicKey {
			return false
		}
		return identity.Verify(v.PublicKey, signedPayload(v.Nonce, v.Sequence, v.Data), v.Signature[:])
	default:
		return false
	}
}

// IsMutable reports whether v carries a sequence number subject to the
// monotonic overwrite rule.
func (v Value) IsMutable() bool {
	return v.Kind == KindSigned || v.Kind == KindEncrypted
}

// Decrypt recovers the plaintext of an Encrypted value using kp, which must
// hold the recipient's private box key. It derives the shared secret
// against the publisher's box public key (PublisherBoxKey), not PublicKey
// (the publisher's Ed25519 signing identity) — the two are unrelated key
// material.
func (v Value) Decrypt(kp *identity.KeyPair) ([]byte, error) {
	if v.Kind != KindEncrypted {
		return nil, fmt.Errorf("model: value is not encrypted")
	}
	return kp.Decrypt(v.PublisherBoxKey, v.Nonce, v.Data)
}

// Update produces a new value of the same Kind with a fresh nonce, an
// incremented sequence number, and data re-signed (re-encrypted too, for
// Encrypted values) under kp. kp must be the original publisher's key pair.
func (v Value) Update(kp *identity.KeyPair, newData []byte) (Value, error) {
	switch v.Kind {
	case KindSigned:
		return NewSigned(kp, newData, v.Sequence+1)
	case KindEncrypted:
		return NewEncrypted(kp, v.Recipient, newData, v.Sequence+1)
	default:
		return Value{}, fmt.Errorf("model: cannot update a value of kind %s", v.Kind)
	}
}

// WithoutPrivateKey returns an equal, read-only copy of v. Value never
// carries private key material itself (mutation always takes an explicit
// *identity.KeyPair), so this is a defensive copy rather than a redaction.
func (v Value) WithoutPrivateKey() Value {
	out := v
	out.Data = append([]byte(nil), v.Data...)
	return out
}
