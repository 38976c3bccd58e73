package model

import (
	"testing"

	"boson/identity"
)

func TestPeerInfoValid(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fp := int64(42)
	p, err := NewPeerInfo(kp, "wss://peer.example:9000", &fp, []byte("extra"), 1)
	if err != nil {
		t.Fatalf("NewPeerInfo: %v", err)
	}
	if !p.IsValid() {
		t.Fatal("expected peer info to validate")
	}
	if p.IsAuthenticated() {
		t.Fatal("unauthenticated peer info should not report authenticated")
	}
}

func TestPeerInfoAuthenticated(t *testing.T) {
	peerKp, _ := identity.Generate()
	nodeKp, _ := identity.Generate()
	p, err := NewPeerInfo(peerKp, "wss://peer.example:9000", nil, nil, 1)
	if err != nil {
		t.Fatalf("NewPeerInfo: %v", err)
	}
	auth, err := p.Authenticate(nodeKp)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !auth.IsAuthenticated() {
		t.Fatal("expected authenticated peer info")
	}
	if !auth.IsValid() {
		t.Fatal("expected authenticated peer info to validate")
	}
}

func TestPeerInfoTamperedEndpointRejected(t *testing.T) {
	kp, _ := identity.Generate()
	p, _ := NewPeerInfo(kp, "wss://peer.example:9000", nil, nil, 1)
	p.Endpoint = "wss://evil.example:9000"
	if p.IsValid() {
		t.Fatal("tampered endpoint must not validate")
	}
}
