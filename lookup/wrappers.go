package lookup

import (
	"boson/rpc"
	"boson/types"
	"boson/wire"
)

// NodeLookup runs an iterative FIND_NODE lookup toward target and returns
// the K closest live nodes discovered.
func NodeLookup(engine *rpc.Engine, self, target types.Id, seed []types.NodeInfo, alpha, k int, want int) *Lookup {
	cfg := Config{
		Target: target,
		Self:   self,
		Alpha:  alpha,
		K:      k,
		Method: wire.MethodFindNode,
		BuildArgs: func(types.NodeInfo) wire.RequestArgs {
			return wire.RequestArgs{Id: self, Target: &target, Want: want}
		},
	}
	return New(cfg, engine, seed)
}

// ValueLookup runs an iterative FIND_VALUE lookup for target, stopping
// early once a value with sequence ≥ minSeq has been seen.
func ValueLookup(engine *rpc.Engine, self, target types.Id, seed []types.NodeInfo, alpha, k int, minSeq int64) *Lookup {
	cfg := Config{
		Target: target,
		Self:   self,
		Alpha:  alpha,
		K:      k,
		Method: wire.MethodFindValue,
		BuildArgs: func(types.NodeInfo) wire.RequestArgs {
			cas := minSeq
			return wire.RequestArgs{Id: self, Target: &target, Cas: &cas}
		},
		Satisfied: func(resp *wire.ResponseResult, out *Outcome) bool {
			return out.Value != nil && (!out.Value.IsMutable() || out.Value.Sequence >= minSeq)
		},
	}
	return New(cfg, engine, seed)
}

// PeerLookup runs an iterative FIND_PEER lookup for a service id, returning
// up to K matching PeerInfos.
func PeerLookup(engine *rpc.Engine, self, serviceId types.Id, seed []types.NodeInfo, alpha, k int) *Lookup {
	cfg := Config{
		Target: serviceId,
		Self:   self,
		Alpha:  alpha,
		K:      k,
		Method: wire.MethodFindPeer,
		BuildArgs: func(types.NodeInfo) wire.RequestArgs {
			return wire.RequestArgs{Id: self, Target: &serviceId}
		},
	}
	return New(cfg, engine, seed)
}
