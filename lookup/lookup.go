// Package lookup implements the shared iterative lookup state machine
// underlying node, value, and peer lookups.
package lookup

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"boson/model"
	"boson/rpc"
	"boson/types"
	"boson/wire"
)

// DefaultTimeout bounds a whole lookup regardless of individual RPC
// progress.
const DefaultTimeout = 60 * time.Second

// DefaultAlpha is the default outbound concurrency per round.
const DefaultAlpha = 3

// candidate tracks one node's position in an in-progress lookup.
type candidate struct {
	node        types.NodeInfo
	distance    types.Id
	queried     bool
	responded   bool
	unreachable bool
}

// Outcome is the accumulated result of a lookup.
type Outcome struct {
	ClosestNodes []types.NodeInfo
	Value        *model.Value
	Peers        []model.PeerInfo
}

// Config parameterizes a single lookup run.
type Config struct {
	Target  types.Id
	Self    types.Id
	Alpha   int
	K       int
	Timeout time.Duration
	Method  wire.Method

	// BuildArgs constructs the RequestArgs to send to a given candidate.
	BuildArgs func(c types.NodeInfo) wire.RequestArgs

	// Satisfied inspects a response and reports whether the lookup can stop
	// early (a FindValue lookup may terminate once a value with sequence
	// ≥ requested has been seen from enough nodes). Node lookups never
	// terminate early; pass a function that always returns false.
	Satisfied func(resp *wire.ResponseResult, out *Outcome) bool
}

// Lookup drives one iterative round-based search. Concurrency
// within a round is bounded by Alpha; rounds continue until the K closest
// known candidates have all been queried, Timeout elapses, or Satisfied
// reports early completion.
type Lookup struct {
	cfg    Config
	engine *rpc.Engine

	mu         sync.Mutex
	candidates []*candidate
	seen       map[types.Id]bool
	out        Outcome

	cancelled atomic.Bool
}

// New creates a Lookup against engine, seeded with the given starting
// candidates (typically routing.Table.Closest(target, alpha*k)).
func New(cfg Config, engine *rpc.Engine, seed []types.NodeInfo) *Lookup {
	if cfg.Alpha <= 0 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.K <= 0 {
		cfg.K = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	l := &Lookup{
		cfg:    cfg,
		engine: engine,
		seen:   make(map[types.Id]bool),
	}
	for _, n := range seed {
		l.addCandidateLocked(n)
	}
	return l
}

func (l *Lookup) addCandidateLocked(n types.NodeInfo) {
	if n.Id.Equal(l.cfg.Self) || l.seen[n.Id] {
		return
	}
	l.seen[n.Id] = true
	l.candidates = append(l.candidates, &candidate{node: n, distance: n.Id.Distance(l.cfg.Target)})
}

// Cancel requests cooperative early termination: in-flight responses are
// still awaited but their results are discarded once received.
func (l *Lookup) Cancel() {
	l.cancelled.Store(true)
}

func (l *Lookup) sortCandidatesLocked() {
	sort.Slice(l.candidates, func(i, j int) bool {
		a, b := l.candidates[i], l.candidates[j]
		if a.distance.Equal(b.distance) {
			return a.node.Id.Less(b.node.Id)
		}
		return a.distance.Less(b.distance)
	})
}

// nextBatchLocked returns up to n unqueried candidates, closest first.
func (l *Lookup) nextBatchLocked(n int) []*candidate {
	l.sortCandidatesLocked()
	var batch []*candidate
	for _, c := range l.candidates {
		if len(batch) >= n {
			break
		}
		if !c.queried {
			batch = append(batch, c)
		}
	}
	return batch
}

// kClosestAllQueriedLocked reports whether the K closest known candidates
// have all either responded or been marked unreachable.
func (l *Lookup) kClosestAllQueriedLocked() bool {
	l.sortCandidatesLocked()
	count := 0
	for _, c := range l.candidates {
		if count >= l.cfg.K {
			break
		}
		count++
		if !c.queried {
			return false
		}
	}
	return true
}

// Run executes the lookup to completion or until ctx / the lookup's own
// timeout elapses.
func (l *Lookup) Run(ctx context.Context) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	for {
		if l.cancelled.Load() {
			break
		}
		select {
		case <-ctx.Done():
			return l.finalize(), nil
		default:
		}

		l.mu.Lock()
		batch := l.nextBatchLocked(l.cfg.Alpha)
		for _, c := range batch {
			c.queried = true
		}
		l.mu.Unlock()

		if len(batch) == 0 {
			// No unqueried candidate remains: every round resolves fully
			// before the next begins, so there is nothing left to wait on.
			break
		}

		var wg sync.WaitGroup
		type outcome struct {
			c    *candidate
			resp *wire.ResponseResult
		}
		results := make(chan outcome, len(batch))
		for _, c := range batch {
			wg.Add(1)
			go func(c *candidate) {
				defer wg.Done()
				resp, err := l.engine.Call(ctx, c.node, l.cfg.Method, l.cfg.BuildArgs(c.node))
				if err != nil {
					l.mu.Lock()
					c.unreachable = true
					l.mu.Unlock()
					return
				}
				results <- outcome{c: c, resp: resp}
			}(c)
		}
		wg.Wait()
		close(results)

		satisfied := false
		for r := range results {
			if l.cancelled.Load() {
				continue
			}
			l.mu.Lock()
			r.c.responded = true
			l.mergeResponseLocked(r.resp)
			l.mu.Unlock()
			if l.cfg.Satisfied != nil && l.cfg.Satisfied(r.resp, &l.out) {
				satisfied = true
			}
		}
		if satisfied {
			break
		}

		l.mu.Lock()
		stop := l.kClosestAllQueriedLocked()
		l.mu.Unlock()
		if stop {
			break
		}
	}
	return l.finalize(), nil
}

// mergeResponseLocked folds a response's returned nodes, value, and peers
// into the lookup state. Caller must hold l.mu.
func (l *Lookup) mergeResponseLocked(resp *wire.ResponseResult) {
	for _, n := range resp.Nodes4 {
		l.addCandidateLocked(n)
	}
	for _, n := range resp.Nodes6 {
		l.addCandidateLocked(n)
	}
	if resp.Value != nil {
		if v, err := resp.Value.ToValue(); err == nil && v.IsValid() {
			if l.out.Value == nil || !l.out.Value.IsMutable() || v.Sequence > l.out.Value.Sequence {
				l.out.Value = &v
			}
		}
	}
	for _, pw := range resp.Peers {
		if p, err := pw.ToPeerInfo(); err == nil && p.IsValid() {
			l.out.Peers = append(l.out.Peers, p)
		}
	}
}

func (l *Lookup) finalize() *Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sortCandidatesLocked()
	var closest []types.NodeInfo
	for _, c := range l.candidates {
		if c.responded {
			closest = append(closest, c.node)
		}
		if len(closest) >= l.cfg.K {
			break
		}
	}
	l.out.ClosestNodes = closest
	return &l.out
}
