// Package identity implements the DHT's cryptographic primitives:
// Ed25519-class signing and X25519-class box encryption, plus a bounded
// cache of derived shared-secret contexts so repeat exchanges with the same
// counterparty avoid a fresh scalar multiplication.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"boson/types"
)

// NonceLength is the width, in bytes, of the nonce carried on every mutable
// or encrypted value and peer announcement.
const NonceLength = 24

// contextCacheSize bounds the number of derived box contexts kept resident.
const contextCacheSize = 256

// ErrDestroyed is returned by every operation on a KeyPair after Destroy.
var ErrDestroyed = errors.New("identity: key pair destroyed")

// KeyPair bundles a node's signing identity (Ed25519, whose public half is
// the node's Id) with a dedicated encryption identity (X25519, used for box
// encrypt/decrypt of encrypted-mutable values). The two are independent key
// material; nothing requires them to coincide.
type KeyPair struct {
	mu sync.RWMutex

	SignPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey

	BoxPub  types.Id
	boxPriv [32]byte

	ctxCache *lru.Cache[types.Id, *Context]
	destroyed bool
}

// Generate creates a fresh signing and box key pair.
func Generate() (*KeyPair, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate box key: %w", err)
	}
	cache, err := lru.New[types.Id, *Context](contextCacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: create context cache: %w", err)
	}
	return &KeyPair{
		SignPub:  signPub,
		signPriv: signPriv,
		BoxPub:   types.Id(*boxPub),
		boxPriv:  *boxPriv,
		ctxCache: cache,
	}, nil
}

// FromSeed reconstructs a KeyPair from its persisted private material: a
// 32-byte Ed25519 seed and a 32-byte X25519 box private scalar. Used by the
// node controller's "load or generate node key" startup step.
func FromSeed(signSeed [ed25519.SeedSize]byte, boxPriv [32]byte) (*KeyPair, error) {
	signPriv := ed25519.NewKeyFromSeed(signSeed[:])
	signPub := signPriv.Public().(ed25519.PublicKey)

	var boxPub [32]byte
	curve25519.ScalarBaseMult(&boxPub, &boxPriv)

	cache, err := lru.New[types.Id, *Context](contextCacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: create context cache: %w", err)
	}
	return &KeyPair{
		SignPub:  signPub,
		signPriv: signPriv,
		BoxPub:   types.Id(boxPub),
		boxPriv:  boxPriv,
		ctxCache: cache,
	}, nil
}

// Seed returns the Ed25519 seed and box private scalar needed to reconstruct
// this KeyPair via FromSeed, for the node controller to persist to disk.
func (k *KeyPair) Seed() (signSeed [ed25519.SeedSize]byte, boxPriv [32]byte, err error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return signSeed, boxPriv, ErrDestroyed
	}
	copy(signSeed[:], k.signPriv.Seed())
	boxPriv = k.boxPriv
	return signSeed, boxPriv, nil
}

// Id returns the node Id derived from the signing public key.
func (k *KeyPair) Id() types.Id {
	var id types.Id
	copy(id[:], k.SignPub)
	return id
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return nil, ErrDestroyed
	}
	return ed25519.Sign(k.signPriv, msg), nil
}

// Verify checks sig over msg under pub. It never consults key-pair state and
// remains callable after Destroy.
func Verify(pub types.Id, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// Context is a precomputed box shared secret between this node and one
// counterparty, avoiding repeated scalar multiplication across many
// encrypt/decrypt calls with the same peer.
type Context struct {
	shared [32]byte
}

// Encrypt seals plain under the context's shared secret and the given nonce.
func (c *Context) Encrypt(nonce [NonceLength]byte, plain []byte) []byte {
	return box.SealAfterPrecomputation(nil, plain, &nonce, &c.shared)
}

// Decrypt opens cipher under the context's shared secret and the given
// nonce, failing if authentication does not check out.
func (c *Context) Decrypt(nonce [NonceLength]byte, cipher []byte) ([]byte, error) {
	plain, ok := box.OpenAfterPrecomputation(nil, cipher, &nonce, &c.shared)
	if !ok {
		return nil, errors.New("identity: decrypt failed authentication")
	}
	return plain, nil
}

// CreateCryptoContext returns the cached (or freshly derived) box context for
// peer. The shared secret is computed once per counterparty via
// box.Precompute and reused for every subsequent Encrypt/Decrypt.
func (k *KeyPair) CreateCryptoContext(peer types.Id) (*Context, error) {
	k.mu.RLock()
	destroyed := k.destroyed
	k.mu.RUnlock()
	if destroyed {
		return nil, ErrDestroyed
	}
	if ctx, ok := k.ctxCache.Get(peer); ok {
		return ctx, nil
	}

	var shared [32]byte
	peerBytes := [32]byte(peer)
	box.Precompute(&shared, &peerBytes, &k.boxPriv)
	ctx := &Context{shared: shared}
	k.ctxCache.Add(peer, ctx)
	return ctx, nil
}

// Encrypt is a convenience wrapper that derives (or reuses) the context for
// recipient and seals plain under nonce.
func (k *KeyPair) Encrypt(recipient types.Id, nonce [NonceLength]byte, plain []byte) ([]byte, error) {
	ctx, err := k.CreateCryptoContext(recipient)
	if err != nil {
		return nil, err
	}
	return ctx.Encrypt(nonce, plain), nil
}

// Decrypt is a convenience wrapper that derives (or reuses) the context for
// sender and opens cipher under nonce.
func (k *KeyPair) Decrypt(sender types.Id, nonce [NonceLength]byte, cipher []byte) ([]byte, error) {
	ctx, err := k.CreateCryptoContext(sender)
	if err != nil {
		return nil, err
	}
	return ctx.Decrypt(nonce, cipher)
}

// Destroy wipes the private key material. Every subsequent operation on k
// fails with ErrDestroyed: once destroyed, a KeyPair never signs, encrypts,
// or decrypts again.
func (k *KeyPair) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return
	}
	for i := range k.signPriv {
		k.signPriv[i] = 0
	}
	for i := range k.boxPriv {
		k.boxPriv[i] = 0
	}
	k.ctxCache.Purge()
	k.destroyed = true
}
