package types

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestIdCBORRoundTrip(t *testing.T) {
	id := RandomId()
	b, err := cbor.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Id
	if err := cbor.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch")
	}
}

func TestIdJSONRoundTrip(t *testing.T) {
	id := RandomId()
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Id
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch")
	}
}

func TestNodeInfoRoundTripBothFormats(t *testing.T) {
	ni := NodeInfo{Id: RandomId(), Host: "203.0.113.7", Port: 6881}

	cborBytes, err := cbor.Marshal(ni)
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}
	var gotCbor NodeInfo
	if err := cbor.Unmarshal(cborBytes, &gotCbor); err != nil {
		t.Fatalf("cbor unmarshal: %v", err)
	}
	if gotCbor != ni {
		t.Fatalf("cbor round trip mismatch: got %+v want %+v", gotCbor, ni)
	}

	jsonBytes, err := json.Marshal(ni)
	if err != nil {
		t.Fatalf("json marshal: %v", err)
	}
	var gotJSON NodeInfo
	if err := json.Unmarshal(jsonBytes, &gotJSON); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if gotJSON != ni {
		t.Fatalf("json round trip mismatch: got %+v want %+v", gotJSON, ni)
	}
}

func TestNodeInfoHostnameFallback(t *testing.T) {
	ni := NodeInfo{Id: RandomId(), Host: "bootstrap.boson.example", Port: 6881}
	b, err := cbor.Marshal(ni)
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}
	var got NodeInfo
	if err := cbor.Unmarshal(b, &got); err != nil {
		t.Fatalf("cbor unmarshal: %v", err)
	}
	if got.Host != ni.Host {
		t.Fatalf("hostname fallback mismatch: got %q want %q", got.Host, ni.Host)
	}
}
