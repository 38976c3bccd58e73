package wire

import (
	"testing"

	"boson/boserr"
	"boson/model"
	"boson/types"
)

func sampleRequest() Envelope {
	target := types.RandomId()
	return NewRequest(7, MethodFindNode, RequestArgs{
		Id:     types.RandomId(),
		Target: &target,
		Want:   WantIPv4 | WantToken,
	})
}

func TestCBORRoundTrip(t *testing.T) {
	e := sampleRequest()
	b, err := EncodeCBOR(e)
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}
	got, err := DecodeCBOR(b)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	if got.Txid != e.Txid || got.Method != e.Method || got.Type != e.Type {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
	if !got.Request.Id.Equal(e.Request.Id) || !got.Request.Target.Equal(*e.Request.Target) {
		t.Fatalf("request args round trip mismatch")
	}

	b2, err := EncodeCBOR(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(b2) != string(b) {
		t.Fatalf("re-encoding a decoded message must be deterministic")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	e := sampleRequest()
	b, err := EncodeJSON(e)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	got, err := DecodeJSON(b)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.Txid != e.Txid || got.Method != e.Method || got.Type != e.Type {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestZeroTxidRejected(t *testing.T) {
	e := Envelope{Type: TypeRequest, Method: MethodPing, Txid: 0, Request: &RequestArgs{Id: types.RandomId()}}
	if _, err := EncodeCBOR(e); err == nil {
		t.Fatal("expected error encoding envelope with zero txid")
	}
}

func TestBodyTypeMismatchRejected(t *testing.T) {
	e := Envelope{
		Type:     TypeRequest,
		Method:   MethodPing,
		Txid:     1,
		Response: &ResponseResult{Id: types.RandomId()},
	}
	if _, err := EncodeCBOR(e); err == nil {
		t.Fatal("expected error for REQUEST type carrying an r body")
	}
}

func TestUnknownMethodRequestRejected(t *testing.T) {
	e := Envelope{Type: TypeRequest, Method: Method(99), Txid: 1, Request: &RequestArgs{Id: types.RandomId()}}
	_, err := EncodeCBOR(e)
	if err == nil {
		t.Fatal("expected error for unknown method on a REQUEST")
	}
	var berr *boserr.Error
	if !asBosErr(err, &berr) || berr.Code != boserr.CodeMethodUnknown {
		t.Fatalf("expected CodeMethodUnknown, got %v", err)
	}
}

func TestErrorEnvelopeRoundTrip(t *testing.T) {
	e := NewError(9, MethodStoreValue, boserr.InvalidToken())
	b, err := EncodeJSON(e)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	got, err := DecodeJSON(b)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.BosErr().Code != boserr.CodeInvalidToken {
		t.Fatalf("expected CodeInvalidToken, got %v", got.BosErr())
	}
}

func TestValueWireRoundTrip(t *testing.T) {
	v := model.NewImmutable([]byte("payload"))
	w := ValueWireFrom(v)
	back, err := w.ToValue()
	if err != nil {
		t.Fatalf("ToValue: %v", err)
	}
	if back.Id != v.Id || string(back.Data) != string(v.Data) {
		t.Fatalf("value wire round trip mismatch")
	}
}

func FuzzCBORRoundTrip(f *testing.F) {
	e := sampleRequest()
	seed, err := EncodeCBOR(e)
	if err != nil {
		f.Fatalf("EncodeCBOR seed: %v", err)
	}
	f.Add(seed)
	f.Add([]byte("not cbor at all"))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		got, err := DecodeCBOR(data)
		if err != nil {
			return
		}
		b2, err := EncodeCBOR(got)
		if err != nil {
			t.Fatalf("re-encode of a decoded envelope must succeed: %v", err)
		}
		got2, err := DecodeCBOR(b2)
		if err != nil {
			t.Fatalf("re-decode of a re-encoded envelope must succeed: %v", err)
		}
		if got2.Txid != got.Txid || got2.Method != got.Method || got2.Type != got.Type {
			t.Fatalf("decode is not idempotent: got %+v then %+v", got, got2)
		}
	})
}

func asBosErr(err error, out **boserr.Error) bool {
	be, ok := err.(*boserr.Error)
	if !ok {
		return false
	}
	*out = be
	return true
}
