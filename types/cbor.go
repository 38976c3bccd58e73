package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type cborKind int

const (
	cborKindBytes cborKind = iota
	cborKindText
)

// cborEncodeBytes renders b as a CBOR byte string (major type 2).
func cborEncodeBytes(b []byte) ([]byte, error) {
	return cbor.Marshal(b)
}

// cborEncodeText renders s as a CBOR text string (major type 3).
func cborEncodeText(s string) ([]byte, error) {
	return cbor.Marshal(s)
}

// cborDecodeBytesOrText decodes a CBOR-encoded byte string or text string,
// reporting which one it found.
func cborDecodeBytesOrText(data []byte) (cborKind, []byte, error) {
	var asBytes []byte
	if err := cbor.Unmarshal(data, &asBytes); err == nil {
		return cborKindBytes, asBytes, nil
	}
	var asText string
	if err := cbor.Unmarshal(data, &asText); err == nil {
		return cborKindText, []byte(asText), nil
	}
	return 0, nil, fmt.Errorf("types: expected CBOR byte string or text string")
}
