package routing

import (
	"testing"
	"time"

	"boson/types"
)

func idWithCPL(self types.Id, bits int) types.Id {
	return randomIdWithCPL(self, bits)
}

func nodeAt(id types.Id) types.NodeInfo {
	return types.NodeInfo{Id: id, Host: "127.0.0.1", Port: 6881}
}

func TestAddAndClosestOrdering(t *testing.T) {
	self := types.RandomId()
	tbl := New(self, 8, 3, time.Hour)
	now := time.Now()

	target := types.RandomId()
	var ids []types.Id
	for i := 0; i < 20; i++ {
		id := types.RandomId()
		ids = append(ids, id)
		tbl.Add(nodeAt(id), now)
	}

	closest := tbl.Closest(target, 5)
	if len(closest) != 5 {
		t.Fatalf("expected 5 closest entries, got %d", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		prevDist := closest[i-1].Id.Distance(target)
		curDist := closest[i].Id.Distance(target)
		if curDist.Less(prevDist) {
			t.Fatalf("closest() not sorted by ascending distance at index %d", i)
		}
	}
}

func TestBucketFullReplacementCache(t *testing.T) {
	self := types.RandomId()
	tbl := New(self, 2, 3, time.Hour)
	now := time.Now()

	// All three ids share the same common-prefix-length bucket with self.
	a := idWithCPL(self, 10)
	b := idWithCPL(self, 10)
	c := idWithCPL(self, 10)

	if !tbl.Add(nodeAt(a), now) {
		t.Fatal("first add into empty bucket should succeed")
	}
	if !tbl.Add(nodeAt(b), now) {
		t.Fatal("second add should fill the remaining slot")
	}
	if tbl.Add(nodeAt(c), now) {
		t.Fatal("third add to a full bucket with no eviction-eligible entry should land in the replacement cache, not live")
	}
	if tbl.Size() != 2 {
		t.Fatalf("expected 2 live entries, got %d", tbl.Size())
	}
}

func TestOnTimeoutEvictsAfterThreshold(t *testing.T) {
	self := types.RandomId()
	tbl := New(self, 8, 2, time.Hour)
	now := time.Now()
	id := types.RandomId()
	tbl.Add(nodeAt(id), now)

	tbl.OnTimeout(id)
	if tbl.Size() != 1 {
		t.Fatalf("entry should survive below the eviction threshold, got size %d", tbl.Size())
	}
	tbl.OnTimeout(id)
	if tbl.Size() != 0 {
		t.Fatalf("entry should be evicted at the threshold, got size %d", tbl.Size())
	}
}

func TestOnTimeoutPromotesReplacement(t *testing.T) {
	self := types.RandomId()
	tbl := New(self, 1, 1, time.Hour)
	now := time.Now()

	a := idWithCPL(self, 10)
	b := idWithCPL(self, 10)
	tbl.Add(nodeAt(a), now)
	tbl.Add(nodeAt(b), now) // goes to replacement cache, bucket size 1 is full

	tbl.OnTimeout(a) // a is evicted, b should be promoted
	closest := tbl.Closest(b, 8)
	found := false
	for _, n := range closest {
		if n.Id.Equal(b) {
			found = true
		}
	}
	if !found {
		t.Fatal("replacement cache entry should be promoted when the live entry is evicted")
	}
}

func TestSelfNeverAdded(t *testing.T) {
	self := types.RandomId()
	tbl := New(self, 8, 3, time.Hour)
	if tbl.Add(nodeAt(self), time.Now()) {
		t.Fatal("adding self must be a no-op")
	}
	if tbl.Size() != 0 {
		t.Fatalf("expected 0 entries, got %d", tbl.Size())
	}
}

func TestStaleBucketTargetsRespectsInterval(t *testing.T) {
	self := types.RandomId()
	tbl := New(self, 8, 3, time.Minute)
	now := time.Now()
	tbl.Add(nodeAt(types.RandomId()), now)

	if targets := tbl.StaleBucketTargets(now); len(targets) != 0 {
		t.Fatalf("freshly touched bucket should not be stale yet, got %d targets", len(targets))
	}
	later := now.Add(2 * time.Minute)
	targets := tbl.StaleBucketTargets(later)
	if len(targets) == 0 {
		t.Fatal("expected the untouched bucket to be reported stale")
	}
}
