package node

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"boson/identity"
)

// keyFileSize is the width of a persisted identity: a 32-byte Ed25519 seed
// followed by a 32-byte X25519 box private scalar.
const keyFileSize = ed25519.SeedSize + 32

// loadOrGenerateKey reads <dataDir>/identity.key, generating and persisting
// a fresh key pair the first time a node runs against an empty data dir.
func loadOrGenerateKey(dataDir string) (*identity.KeyPair, error) {
	path := filepath.Join(dataDir, "identity.key")
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != keyFileSize {
			return nil, fmt.Errorf("node: identity key file %s has wrong length %d, want %d", path, len(data), keyFileSize)
		}
		var signSeed [ed25519.SeedSize]byte
		var boxPriv [32]byte
		copy(signSeed[:], data[:ed25519.SeedSize])
		copy(boxPriv[:], data[ed25519.SeedSize:])
		return identity.FromSeed(signSeed, boxPriv)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("node: read identity key: %w", err)
	}

	kp, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("node: generate identity: %w", err)
	}
	signSeed, boxPriv, err := kp.Seed()
	if err != nil {
		return nil, fmt.Errorf("node: extract seed of freshly generated identity: %w", err)
	}
	buf := make([]byte, 0, keyFileSize)
	buf = append(buf, signSeed[:]...)
	buf = append(buf, boxPriv[:]...)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return nil, fmt.Errorf("node: persist identity key: %w", err)
	}
	return kp, nil
}
