package types

import (
	"encoding/json"
	"fmt"
	"net"
)

// Addr is a host literal (IPv4, IPv6, or resolvable hostname). Its wire
// encoding is symmetric across formats: binary frames carry raw address
// bytes when the host parses as an IP, text frames always carry the literal
// string. A bare hostname (no valid IP parse) falls back to a CBOR text
// string in binary frames too, since it has no fixed-width byte form.
type Addr string

// MarshalCBOR implements cbor.Marshaler.
func (a Addr) MarshalCBOR() ([]byte, error) {
	if ip := net.ParseIP(string(a)); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return cborEncodeBytes(v4)
		}
		return cborEncodeBytes(ip.To16())
	}
	return cborEncodeText(string(a))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (a *Addr) UnmarshalCBOR(data []byte) error {
	kind, raw, err := cborDecodeBytesOrText(data)
	if err != nil {
		return fmt.Errorf("types: decode addr: %w", err)
	}
	if kind == cborKindBytes {
		ip := net.IP(raw)
		*a = Addr(ip.String())
		return nil
	}
	*a = Addr(raw)
	return nil
}

// MarshalJSON renders the address as its plain string literal.
func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// UnmarshalJSON parses the address from its plain string literal.
func (a *Addr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Addr(s)
	return nil
}
