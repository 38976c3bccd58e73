// Package storage implements the local key-value store: the values and
// peers tables, CAS semantics, and the periodic expiration sweep.
package storage

import (
	"math/rand"
	"sync"
	"time"

	"boson/boserr"
	"boson/model"
	"boson/types"
)

// ValueRecord is a stored Value plus its bookkeeping fields.
type ValueRecord struct {
	Value        model.Value
	Persistent   bool
	Timestamp    time.Time
	LastAnnounce time.Time
}

// PeerRecord is a stored PeerInfo plus its bookkeeping fields, scoped to a
// service.
type PeerRecord struct {
	ServiceId    types.Id
	Peer         model.PeerInfo
	Persistent   bool
	Timestamp    time.Time
	LastAnnounce time.Time
}

type peerKey struct {
	service types.Id
	node    types.Id
}

// Store is the in-process map+mutex implementation of the values and peers
// tables. It models the logical values/peers schema without a backing SQL
// engine (see DESIGN.md for why: the retrieval pack carries no SQL driver
// dependency, and database plumbing is out of scope beyond an
// abstract schema-version property).
type Store struct {
	mu     sync.RWMutex
	values map[types.Id]ValueRecord
	peers  map[peerKey]PeerRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		values: make(map[types.Id]ValueRecord),
		peers:  make(map[peerKey]PeerRecord),
	}
}

// GetValue returns the current record for id if present and not older than
// maxAge, as of now. maxAge only applies to non-persistent records: a
// persistent value is never considered expired by age, only by explicit
// removal. This check is in addition to, not instead of, the periodic
// ExpireSweep: the sweep reclaims storage, this keeps a read from ever
// surfacing a row between its age limit and the next sweep.
func (s *Store) GetValue(id types.Id, now time.Time, maxAge time.Duration) (model.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.values[id]
	if !ok {
		return model.Value{}, false
	}
	if !rec.Persistent && maxAge > 0 && now.Sub(rec.Timestamp) > maxAge {
		return model.Value{}, false
	}
	return rec.Value, true
}

// PutValue upserts v. If hasExpectedSeq, the existing record (if any) must
// carry exactly expectedSeq or the call fails with CasFail (301). A mutable
// value may never be overwritten by an immutable one for the same id
// (ImmutableSubstitutionFail, also surfaced as 301). The
// value's own signature must verify, else InvalidSignature (206).
func (s *Store) PutValue(v model.Value, expectedSeq int64, hasExpectedSeq bool, persistent bool, now time.Time) error {
	if !v.IsValid() {
		return boserr.InvalidSignature("value signature does not verify")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.values[v.Id]
	if exists {
		if old.Value.IsMutable() && !v.IsMutable() {
			return boserr.CasFail(old.Value.Sequence, 0)
		}
		if v.IsMutable() {
			if hasExpectedSeq && old.Value.Sequence != expectedSeq {
				return boserr.CasFail(expectedSeq, old.Value.Sequence)
			}
			if v.Sequence <= old.Value.Sequence {
				return boserr.SequenceNotMonotonic(v.Sequence, old.Value.Sequence)
			}
		}
	}

	s.values[v.Id] = ValueRecord{Value: v, Persistent: persistent, Timestamp: now, LastAnnounce: now}
	return nil
}

// RemoveValue deletes id's record, reporting whether a row existed.
func (s *Store) RemoveValue(id types.Id) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.values[id]
	delete(s.values, id)
	return existed
}

// UpdateValueLastAnnounce bumps the republish clock for id without
// otherwise modifying the record, used after a successful STORE_VALUE
// republication.
func (s *Store) UpdateValueLastAnnounce(id types.Id, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.values[id]; ok {
		rec.LastAnnounce = now
		s.values[id] = rec
	}
}

// GetPeersForService returns up to max peers announced for serviceId, newer
// than maxAge, chosen at random rather than by any fixed order.
func (s *Store) GetPeersForService(serviceId types.Id, max int, maxAge time.Duration, now time.Time) []model.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var candidates []model.PeerInfo
	for k, rec := range s.peers {
		if k.service != serviceId {
			continue
		}
		if now.Sub(rec.Timestamp) > maxAge {
			continue
		}
		candidates = append(candidates, rec.Peer)
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// GetPeer returns the exact record for (serviceId, nodeId).
func (s *Store) GetPeer(serviceId, nodeId types.Id) (model.PeerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.peers[peerKey{service: serviceId, node: nodeId}]
	if !ok {
		return model.PeerInfo{}, false
	}
	return rec.Peer, true
}

// PutPeer upserts a peer announcement for serviceId, keyed by the peer's own
// Id.
func (s *Store) PutPeer(serviceId types.Id, p model.PeerInfo, persistent bool, now time.Time) error {
	if !p.IsValid() {
		return boserr.InvalidSignature("peer announcement signature does not verify")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := peerKey{service: serviceId, node: p.Id}
	if old, exists := s.peers[key]; exists && p.SequenceNumber <= old.Peer.SequenceNumber {
		return boserr.SequenceNotMonotonic(p.SequenceNumber, old.Peer.SequenceNumber)
	}
	s.peers[key] = PeerRecord{ServiceId: serviceId, Peer: p, Persistent: persistent, Timestamp: now, LastAnnounce: now}
	return nil
}

// UpdatePeerLastAnnounce bumps the republish clock for (serviceId, nodeId).
func (s *Store) UpdatePeerLastAnnounce(serviceId, nodeId types.Id, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := peerKey{service: serviceId, node: nodeId}
	if rec, ok := s.peers[key]; ok {
		rec.LastAnnounce = now
		s.peers[key] = rec
	}
}

// GetPersistentValues returns every persistent value record whose
// LastAnnounce predates cutoff, for the republish scheduler.
func (s *Store) GetPersistentValues(cutoff time.Time) []ValueRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ValueRecord
	for _, rec := range s.values {
		if rec.Persistent && rec.LastAnnounce.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// GetPersistentPeers returns every persistent peer record whose
// LastAnnounce predates cutoff.
func (s *Store) GetPersistentPeers(cutoff time.Time) []PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PeerRecord
	for _, rec := range s.peers {
		if rec.Persistent && rec.LastAnnounce.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// GetAllValues streams every stored value record.
func (s *Store) GetAllValues() []ValueRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ValueRecord, 0, len(s.values))
	for _, rec := range s.values {
		out = append(out, rec)
	}
	return out
}

// GetAllPeers streams every stored peer record.
func (s *Store) GetAllPeers() []PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerRecord, 0, len(s.peers))
	for _, rec := range s.peers {
		out = append(out, rec)
	}
	return out
}

// ExpireSweep deletes every non-persistent row older than its respective
// maxAge, called periodically by the node controller's expiration timer.
func (s *Store) ExpireSweep(now time.Time, maxValueAge, maxPeerAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.values {
		if !rec.Persistent && now.Sub(rec.Timestamp) > maxValueAge {
			delete(s.values, id)
		}
	}
	for k, rec := range s.peers {
		if !rec.Persistent && now.Sub(rec.Timestamp) > maxPeerAge {
			delete(s.peers, k)
		}
	}
}
