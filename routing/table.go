package routing

import (
	"crypto/rand"
	"math/bits"
	"sort"
	"sync"
	"time"

	"boson/types"
)

// idBits is the width of the Id space in bits.
const idBits = types.IdLength * 8

// cpl returns the length of the common prefix, in bits, between a and b.
// A result of idBits means a and b are identical.
func cpl(a, b types.Id) int {
	d := a.Distance(b)
	for i, by := range d {
		if by != 0 {
			return i*8 + bits.LeadingZeros8(by)
		}
	}
	return idBits
}

// Table is the Kademlia routing table: a set of K-buckets indexed by the
// common prefix length with the owner's Id, which is the array
// representation of the "split only the bucket containing your own id"
// optimization: bucket i already covers exactly the
// prefix range a dynamically-split home bucket would carve out at depth i.
type Table struct {
	mu              sync.RWMutex
	self            types.Id
	k               int
	maxTimeouts     int
	refreshInterval time.Duration

	buckets     [idBits]*bucket
	lastRefresh [idBits]time.Time
}

// New creates a routing table for self, holding up to k entries per bucket
// and evicting an entry after maxTimeouts consecutive failures.
func New(self types.Id, k, maxTimeouts int, refreshInterval time.Duration) *Table {
	if k <= 0 {
		k = 8
	}
	if maxTimeouts <= 0 {
		maxTimeouts = 3
	}
	return &Table{self: self, k: k, maxTimeouts: maxTimeouts, refreshInterval: refreshInterval}
}

func (t *Table) bucketAt(idx int) *bucket {
	if t.buckets[idx] == nil {
		t.buckets[idx] = newBucket(t.k)
	}
	return t.buckets[idx]
}

// Add records a verified contact. It returns true if the node occupies a
// live slot afterward, false if the bucket was full of live entries and the
// node was only placed in the replacement cache.
func (t *Table) Add(node types.NodeInfo, now time.Time) bool {
	if node.Id.Equal(t.self) {
		return false
	}
	idx := cpl(t.self, node.Id)
	if idx >= idBits {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketAt(idx)
	t.lastRefresh[idx] = now

	if i := b.indexOf(node.Id); i >= 0 {
		b.entries[i].Node = node
		b.entries[i].LastSeen = now
		b.entries[i].FailedRequests = 0
		return true
	}
	if !b.isFull() {
		b.entries = append(b.entries, Entry{Node: node, FirstSeen: now, LastSeen: now})
		return true
	}
	for i, e := range b.entries {
		if e.evictionEligible(t.maxTimeouts) {
			b.entries[i] = Entry{Node: node, FirstSeen: now, LastSeen: now}
			return true
		}
	}
	b.pushReplacement(Entry{Node: node, FirstSeen: now, LastSeen: now})
	return false
}

// OnResponse marks node as freshly alive, equivalent to Add with a reset
// failure count, since it mutates on every verified interaction.
func (t *Table) OnResponse(node types.NodeInfo, now time.Time) bool {
	return t.Add(node, now)
}

// OnTimeout records a failed request against id. If the entry crosses the
// eviction threshold, it is dropped and replaced by the most recently seen
// replacement cache candidate, if one is waiting.
func (t *Table) OnTimeout(id types.Id) {
	idx := cpl(t.self, id)
	if idx >= idBits {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	if b == nil {
		return
	}
	i := b.indexOf(id)
	if i < 0 {
		return
	}
	b.entries[i].FailedRequests++
	if !b.entries[i].evictionEligible(t.maxTimeouts) {
		return
	}
	if len(b.replacement) > 0 {
		repl := b.replacement[len(b.replacement)-1]
		b.replacement = b.replacement[:len(b.replacement)-1]
		b.entries[i] = repl
		return
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}

// Remove drops id from the table entirely, with no replacement cache
// promotion (used when a node is known to have left permanently).
func (t *Table) Remove(id types.Id) {
	idx := cpl(t.self, id)
	if idx >= idBits {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	if b == nil {
		return
	}
	if i := b.indexOf(id); i >= 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
	}
}

type closestCandidate struct {
	node     types.NodeInfo
	distance types.Id
}

// Closest returns up to k entries ordered by XOR distance to target, with
// ties broken by the numerically smaller Id.
func (t *Table) Closest(target types.Id, k int) []types.NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var all []closestCandidate
	for _, b := range t.buckets {
		if b == nil {
			continue
		}
		for _, e := range b.entries {
			all = append(all, closestCandidate{node: e.Node, distance: e.Node.Id.Distance(target)})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		di, dj := all[i].distance, all[j].distance
		if di.Equal(dj) {
			return all[i].node.Id.Less(all[j].node.Id)
		}
		return di.Less(dj)
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]types.NodeInfo, len(all))
	for i, c := range all {
		out[i] = c.node
	}
	return out
}

// Size returns the total number of live entries across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		if b != nil {
			n += len(b.entries)
		}
	}
	return n
}

// StaleBucketTargets returns a random Id for every bucket that has not seen
// activity within refreshInterval, suitable for driving a FIND_NODE lookup
// per bucket during the node controller's periodic refresh.
func (t *Table) StaleBucketTargets(now time.Time) []types.Id {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var targets []types.Id
	for idx, b := range t.buckets {
		if b == nil {
			continue
		}
		if now.Sub(t.lastRefresh[idx]) < t.refreshInterval {
			continue
		}
		targets = append(targets, randomIdWithCPL(t.self, idx))
	}
	return targets
}

// randomIdWithCPL returns a random Id sharing exactly the first cpl bits
// with self (and differing at bit cpl), so a lookup toward it will populate
// precisely the bucket at index cpl.
func randomIdWithCPL(self types.Id, cplBits int) types.Id {
	out := self
	if cplBits >= idBits {
		return out
	}
	fullBytes := cplBits / 8
	bitInByte := cplBits % 8
	flipBit := byte(0x80) >> uint(bitInByte)
	out[fullBytes] ^= flipBit

	var randByte [1]byte
	_, _ = rand.Read(randByte[:])
	lowBitsMask := byte(0xFF) >> uint(bitInByte+1)
	out[fullBytes] = (out[fullBytes] &^ lowBitsMask) | (randByte[0] & lowBitsMask)

	if fullBytes+1 < len(out) {
		_, _ = rand.Read(out[fullBytes+1:])
	}
	return out
}
