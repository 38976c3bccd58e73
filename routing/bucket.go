// Package routing implements the Kademlia routing table: K-buckets indexed
// by common-prefix length with the local id, with per-bucket replacement
// caches and liveness tracking.
package routing

import (
	"time"

	"boson/types"
)

// Entry is a single routing table record.
type Entry struct {
	Node           types.NodeInfo
	FirstSeen      time.Time
	LastSeen       time.Time
	FailedRequests int
}

// needsPinging reports whether an entry is stale enough to warrant an
// unsolicited liveness check before being displaced by a fresh contact.
func (e Entry) needsPinging(now time.Time, refresh time.Duration) bool {
	return now.Sub(e.LastSeen) >= refresh
}

// evictionEligible reports whether consecutive failures have reached the
// configured bound and the entry should be dropped in favor of its
// replacement cache.
func (e Entry) evictionEligible(maxTimeouts int) bool {
	return e.FailedRequests >= maxTimeouts
}

// bucket holds up to k live entries plus a small replacement cache of
// recently-seen candidates waiting for a slot to open.
type bucket struct {
	k           int
	entries     []Entry
	replacement []Entry
}

func newBucket(k int) *bucket {
	return &bucket{k: k}
}

func (b *bucket) indexOf(id types.Id) int {
	for i, e := range b.entries {
		if e.Node.Id.Equal(id) {
			return i
		}
	}
	return -1
}

func (b *bucket) replacementIndexOf(id types.Id) int {
	for i, e := range b.replacement {
		if e.Node.Id.Equal(id) {
			return i
		}
	}
	return -1
}

// pushReplacement records a candidate in the replacement cache, most-recent
// last, evicting the oldest entry if the cache (capped at k) is full.
func (b *bucket) pushReplacement(e Entry) {
	if i := b.replacementIndexOf(e.Node.Id); i >= 0 {
		b.replacement = append(b.replacement[:i], b.replacement[i+1:]...)
	}
	b.replacement = append(b.replacement, e)
	if len(b.replacement) > b.k {
		b.replacement = b.replacement[1:]
	}
}

// isFull reports whether the bucket has no free live slot.
func (b *bucket) isFull() bool {
	return len(b.entries) >= b.k
}
