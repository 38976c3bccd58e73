package model

import (
	"bytes"
	"testing"

	"boson/identity"
)

func TestImmutableValueValid(t *testing.T) {
	v := NewImmutable([]byte("hello"))
	if !v.IsValid() {
		t.Fatal("expected immutable value to validate")
	}
	v.Data = append(v.Data, byte('!'))
	if v.IsValid() {
		t.Fatal("tampered immutable value must not validate")
	}
}

func TestSignedValueValidAndUpdate(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	v, err := NewSigned(kp, []byte("v1"), 1)
	if err != nil {
		t.Fatalf("NewSigned: %v", err)
	}
	if !v.IsValid() {
		t.Fatal("expected signed value to validate")
	}

	v2, err := v.Update(kp, []byte("v2"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v2.Id != v.Id {
		t.Fatal("update must preserve id")
	}
	if v2.Sequence != v.Sequence+1 {
		t.Fatalf("expected sequence %d, got %d", v.Sequence+1, v2.Sequence)
	}
	if !v2.IsValid() {
		t.Fatal("expected updated value to validate")
	}
	if bytes.Equal(v.Nonce[:], v2.Nonce[:]) {
		t.Fatal("expected a fresh nonce on update")
	}
}

func TestEncryptedValueRoundTrip(t *testing.T) {
	publisher, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate publisher: %v", err)
	}
	recipient, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate recipient: %v", err)
	}
	v, err := NewEncrypted(publisher, recipient.BoxPub, []byte("secret"), 1)
	if err != nil {
		t.Fatalf("NewEncrypted: %v", err)
	}
	if !v.IsValid() {
		t.Fatal("expected encrypted value to validate")
	}
	plain, err := v.Decrypt(recipient)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("decrypted mismatch: got %q", plain)
	}
}

func TestSignedValueInvalidSignatureRejected(t *testing.T) {
	kp, _ := identity.Generate()
	v, _ := NewSigned(kp, []byte("v1"), 1)
	v.Data = []byte("tampered")
	if v.IsValid() {
		t.Fatal("tampered signed value must not validate")
	}
}

func TestImmutableValueCannotUpdate(t *testing.T) {
	kp, _ := identity.Generate()
	v := NewImmutable([]byte("v1"))
	if _, err := v.Update(kp, []byte("v2")); err == nil {
		t.Fatal("expected error updating an immutable value")
	}
}
