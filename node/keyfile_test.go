package node

import (
	"os"
	"testing"
)

func TestLoadOrGenerateKeyPersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	kp1, err := loadOrGenerateKey(dir)
	if err != nil {
		t.Fatalf("first loadOrGenerateKey: %v", err)
	}
	kp2, err := loadOrGenerateKey(dir)
	if err != nil {
		t.Fatalf("second loadOrGenerateKey: %v", err)
	}
	if !kp1.Id().Equal(kp2.Id()) {
		t.Fatal("expected the same identity to be reloaded from disk")
	}
	if kp1.BoxPub != kp2.BoxPub {
		t.Fatal("expected the same box public key to be reloaded from disk")
	}
}

func TestLoadOrGenerateKeyRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/identity.key"
	if err := os.WriteFile(path, []byte("too short"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadOrGenerateKey(dir); err == nil {
		t.Fatal("expected an error loading a corrupt identity key file")
	}
}
