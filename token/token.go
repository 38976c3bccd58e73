// Package token implements the rotating write-admission token manager.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"boson/types"
)

// RotationInterval is the default period between secret rotations.
const RotationInterval = 5 * time.Minute

const secretLength = 32

// Manager issues and validates opaque 4-byte tokens bound to
// (remoteAddr, remoteId, targetId). Two secret generations are held at any
// time; a presented token is accepted if it matches either, so a token
// minted just before a rotation remains valid for one further interval.
type Manager struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration

	current     [secretLength]byte
	previous    [secretLength]byte
	hasPrevious bool
	rotatedAt   time.Time
}

// NewManager creates a Manager rotating every interval (RotationInterval if
// zero), using clk as its time source.
func NewManager(interval time.Duration, clk clock.Clock) (*Manager, error) {
	if interval <= 0 {
		interval = RotationInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{clock: clk, interval: interval}
	if err := m.reseed(); err != nil {
		return nil, err
	}
	m.rotatedAt = clk.Now()
	return m, nil
}

func (m *Manager) reseed() error {
	var s [secretLength]byte
	if _, err := rand.Read(s[:]); err != nil {
		return err
	}
	m.current = s
	return nil
}

// maybeRotateLocked catches up every rotation interval elapsed since the last
// rotation. One elapsed interval shifts current into previous as usual. Two
// or more elapsed intervals means every secret generation predating this
// call is more than one interval old, so both current and previous are
// replaced with fresh secrets, dropping the stale generation entirely rather
// than leaving it reachable as "previous". Caller must hold m.mu.
func (m *Manager) maybeRotateLocked() {
	elapsed := m.clock.Now().Sub(m.rotatedAt)
	if elapsed < m.interval {
		return
	}
	rotations := int(elapsed / m.interval)
	if rotations == 1 {
		m.previous = m.current
		_ = m.reseed()
	} else {
		_ = m.reseed()
		m.previous = m.current
		_ = m.reseed()
	}
	m.hasPrevious = true
	m.rotatedAt = m.clock.Now()
}

// binding is the canonical byte sequence a token is derived from.
func binding(secret [secretLength]byte, remoteAddr string, remoteId, targetId types.Id) []byte {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(remoteAddr))
	mac.Write(remoteId.Bytes())
	mac.Write(targetId.Bytes())
	return mac.Sum(nil)
}

func tokenFromDigest(digest []byte) uint32 {
	return binary.BigEndian.Uint32(digest[:4])
}

// Issue returns a token bound to (remoteAddr, remoteId, targetId) under the
// current secret generation.
func (m *Manager) Issue(remoteAddr string, remoteId, targetId types.Id) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRotateLocked()
	return tokenFromDigest(binding(m.current, remoteAddr, remoteId, targetId))
}

// Validate reports whether tok was issued for (remoteAddr, remoteId,
// targetId) under either the current or previous secret generation.
func (m *Manager) Validate(tok uint32, remoteAddr string, remoteId, targetId types.Id) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRotateLocked()
	if tok == tokenFromDigest(binding(m.current, remoteAddr, remoteId, targetId)) {
		return true
	}
	if m.hasPrevious && tok == tokenFromDigest(binding(m.previous, remoteAddr, remoteId, targetId)) {
		return true
	}
	return false
}
