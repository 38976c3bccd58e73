package rpc

import (
	"time"

	"github.com/google/uuid"

	"boson/boserr"
	"boson/types"
	"boson/wire"
)

// Result is the outcome of a completed outbound call: exactly one of
// Response or Err is set.
type Result struct {
	Response *wire.ResponseResult
	Err      error
}

// Call is an in-flight outbound RPC transaction record.
type Call struct {
	Txid      uint32
	TraceId   uuid.UUID
	Target    types.NodeInfo
	Method    wire.Method
	SentAt    time.Time
	TimeoutAt time.Time
	Retries   int

	done chan Result
}

func newCall(txid uint32, target types.NodeInfo, method wire.Method, sentAt, timeoutAt time.Time) *Call {
	return &Call{
		Txid:      txid,
		TraceId:   uuid.New(),
		Target:    target,
		Method:    method,
		SentAt:    sentAt,
		TimeoutAt: timeoutAt,
		done:      make(chan Result, 1),
	}
}

// complete terminates the call exactly once with the given result: by
// response, error, or timeout. A second call is a no-op.
func (c *Call) complete(r Result) {
	select {
	case c.done <- r:
	default:
	}
}

// timeoutErr is returned to callers whose call deadline elapsed without a
// matching response.
var timeoutErr = &boserr.Error{Code: 0, Message: "rpc: call timed out"}

// cancelledErr is returned when a call is aborted by Stop() rather than by
// its own deadline rather than a timeout.
var cancelledErr = &boserr.Error{Code: 0, Message: "rpc: call cancelled"}

// IsTimeout reports whether err is the engine's timeout sentinel.
func IsTimeout(err error) bool { return err == timeoutErr }

// IsCancelled reports whether err is the engine's cancellation sentinel.
func IsCancelled(err error) bool { return err == cancelledErr }
