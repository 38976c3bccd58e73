package types

import "testing"

func TestIdBase58RoundTrip(t *testing.T) {
	id := RandomId()
	s := id.String()
	got, err := IdFromBase58(s)
	if err != nil {
		t.Fatalf("IdFromBase58: %v", err)
	}
	if !got.Equal(id) {
		t.Fatalf("round trip mismatch: got %s want %s", got, id)
	}
}

func TestIdFromBytesLength(t *testing.T) {
	if _, err := IdFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short byte slice")
	}
}

func TestDistanceSelfIsZero(t *testing.T) {
	id := RandomId()
	d := id.Distance(id)
	if d != ZeroId {
		t.Fatalf("distance to self should be zero, got %x", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a, b := RandomId(), RandomId()
	if a.Distance(b) != b.Distance(a) {
		t.Fatal("xor distance must be symmetric")
	}
}

func TestLessTieBreak(t *testing.T) {
	var a, b Id
	a[0] = 0x01
	b[0] = 0x02
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) {
		t.Fatal("expected !(b < a)")
	}
}

func TestDigestId(t *testing.T) {
	data := []byte("hello boson")
	id := DigestId(data)
	if id != DigestId(data) {
		t.Fatal("digest must be deterministic")
	}
	if id == DigestId([]byte("different")) {
		t.Fatal("different data must not collide trivially")
	}
}
