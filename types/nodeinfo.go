package types

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// NodeInfo identifies a DHT participant: its Id plus the address the local
// node should dial to reach it. Version is the peer's software version,
// reported by the peer itself and used only for diagnostics.
type NodeInfo struct {
	Id      Id
	Host    string // IPv4/IPv6 literal or resolvable hostname
	Port    int
	Version int
}

// String renders a NodeInfo for logging.
func (n NodeInfo) String() string {
	return fmt.Sprintf("%s@%s:%d", n.Id, n.Host, n.Port)
}

// Addr returns the "host:port" form used to dial the node.
func (n NodeInfo) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Equal compares two NodeInfos by Id only: two records referring to the same
// Id are the same node even if their advertised address changed.
func (n NodeInfo) Equal(other NodeInfo) bool {
	return n.Id.Equal(other.Id)
}

// MarshalCBOR implements cbor.Marshaler: a 3-element array [id, host, port].
// Version is a local bookkeeping field and is not part of the compact wire
// form.
func (n NodeInfo) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]interface{}{n.Id, Addr(n.Host), n.Port})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (n *NodeInfo) UnmarshalCBOR(data []byte) error {
	var raw []cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("types: decode node info: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("types: node info array must have 3 elements, got %d", len(raw))
	}
	var id Id
	if err := cbor.Unmarshal(raw[0], &id); err != nil {
		return fmt.Errorf("types: decode node info id: %w", err)
	}
	var addr Addr
	if err := cbor.Unmarshal(raw[1], &addr); err != nil {
		return fmt.Errorf("types: decode node info host: %w", err)
	}
	var port int
	if err := cbor.Unmarshal(raw[2], &port); err != nil {
		return fmt.Errorf("types: decode node info port: %w", err)
	}
	n.Id, n.Host, n.Port = id, string(addr), port
	return nil
}

// MarshalJSON renders the same 3-element tuple as a JSON array.
func (n NodeInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]interface{}{n.Id, Addr(n.Host), n.Port})
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NodeInfo) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("types: decode node info: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("types: node info array must have 3 elements, got %d", len(raw))
	}
	var id Id
	if err := json.Unmarshal(raw[0], &id); err != nil {
		return fmt.Errorf("types: decode node info id: %w", err)
	}
	var addr Addr
	if err := json.Unmarshal(raw[1], &addr); err != nil {
		return fmt.Errorf("types: decode node info host: %w", err)
	}
	var port int
	if err := json.Unmarshal(raw[2], &port); err != nil {
		return fmt.Errorf("types: decode node info port: %w", err)
	}
	n.Id, n.Host, n.Port = id, string(addr), port
	return nil
}
