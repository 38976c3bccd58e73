// Package types holds the wire-level data model shared across the Boson DHT:
// node identifiers, the XOR distance metric, and node address tuples.
package types

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// IdLength is the width of an Id in bytes (256 bits).
const IdLength = 32

// Id is an opaque 256-bit identifier that doubles as an Ed25519 public key.
// The zero Id is never assigned to a live node.
type Id [IdLength]byte

// ZeroId is the identifier with every bit unset.
var ZeroId Id

// RandomId returns a cryptographically random Id, useful for tests and for
// the ephemeral self-lookup target used during bucket refresh.
func RandomId() Id {
	var id Id
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Errorf("types: read random id: %w", err))
	}
	return id
}

// IdFromBytes copies b into a new Id. It fails if b is not IdLength bytes.
func IdFromBytes(b []byte) (Id, error) {
	var id Id
	if len(b) != IdLength {
		return id, fmt.Errorf("types: id must be %d bytes, got %d", IdLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IdFromBase58 decodes the default text representation of an Id.
func IdFromBase58(s string) (Id, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ZeroId, fmt.Errorf("types: decode base58 id: %w", err)
	}
	return IdFromBytes(b)
}

// String renders the Id in its default text form, Base58.
func (id Id) String() string {
	return base58.Encode(id[:])
}

// Hex renders the Id as a lowercase hex string, used in log fields.
func (id Id) Hex() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte encoding of the Id.
func (id Id) Bytes() []byte {
	out := make([]byte, IdLength)
	copy(out, id[:])
	return out
}

// IsZero reports whether id is the all-zero identifier.
func (id Id) IsZero() bool {
	return id == ZeroId
}

// Equal reports whether id and other are identical.
func (id Id) Equal(other Id) bool {
	return id == other
}

// Distance returns the Kademlia XOR distance between id and other.
func (id Id) Distance(other Id) Id {
	var d Id
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// Less compares two Ids as big-endian 256-bit integers, used both for the
// distance metric ordering and as the closest() tie-breaker (smaller Id
// wins on equal distance).
func (id Id) Less(other Id) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// DigestId derives the Id of an immutable value: SHA-256 of its data.
func DigestId(data []byte) Id {
	sum := sha256.Sum256(data)
	return Id(sum)
}

// MarshalCBOR implements cbor.Marshaler: an Id is a raw 32-byte string in
// binary frames.
func (id Id) MarshalCBOR() ([]byte, error) {
	return cborEncodeBytes(id[:])
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (id *Id) UnmarshalCBOR(data []byte) error {
	kind, raw, err := cborDecodeBytesOrText(data)
	if err != nil {
		return fmt.Errorf("types: decode id: %w", err)
	}
	if kind != cborKindBytes {
		return fmt.Errorf("types: id must be a CBOR byte string")
	}
	got, err := IdFromBytes(raw)
	if err != nil {
		return err
	}
	*id = got
	return nil
}

// MarshalJSON renders the Id as its default Base58 text form.
func (id Id) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the Id from its Base58 text form.
func (id *Id) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	got, err := IdFromBase58(s)
	if err != nil {
		return err
	}
	*id = got
	return nil
}
