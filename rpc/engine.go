package rpc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"boson/types"
	"boson/wire"
)

var log = logrus.WithField("component", "rpc")

// SetLogOutput redirects this package's log output, for embedding
// applications that want to route rpc logs somewhere other than stderr.
func SetLogOutput(w io.Writer) {
	log.Logger.SetOutput(w)
}

// Transport sends an already-encoded frame to addr. The engine never owns a
// socket itself; it is handed one by the node controller.
type Transport interface {
	Send(ctx context.Context, addr string, frame []byte) error
}

// Codec selects the wire representation (CBOR or JSON) an Engine speaks.
type Codec struct {
	Encode func(wire.Envelope) ([]byte, error)
	Decode func([]byte) (wire.Envelope, error)
}

// CBORCodec is the default binary wire codec.
var CBORCodec = Codec{Encode: wire.EncodeCBOR, Decode: wire.DecodeCBOR}

// JSONCodec is the text wire codec.
var JSONCodec = Codec{Encode: wire.EncodeJSON, Decode: wire.DecodeJSON}

// Config tunes the engine's retry budget and timeout bounds.
type Config struct {
	MaxTimeout  time.Duration
	BaselineMin time.Duration
	MaxRetries  int
	ThrottleQPS int
}

// DefaultConfig returns sane production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTimeout:  10 * time.Second,
		BaselineMin: 100 * time.Millisecond,
		MaxRetries:  2,
		ThrottleQPS: 20,
	}
}

// Engine is the RPC transaction matcher, adaptive timeout sampler, and
// per-endpoint throttle. One Engine is shared by all outbound calls and
// all inbound dispatch for a single address family.
type Engine struct {
	cfg       Config
	transport Transport
	codec     Codec
	clock     clock.Clock

	mu       sync.Mutex
	pending  map[uint32]*Call
	nextTxid uint32
	samplers map[string]*Sampler
	stopped  bool

	throttle *Throttle
}

// New creates an Engine bound to transport, speaking codec, using clk as its
// time source (benbjohnson/clock.New() in production, a mock clock in
// tests).
func New(cfg Config, transport Transport, codec Codec, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		clock:     clk,
		pending:   make(map[uint32]*Call),
		samplers:  make(map[string]*Sampler),
		throttle:  NewThrottle(cfg.ThrottleQPS),
	}
}

// SetTransport (re)binds the transport an Engine sends through. Node
// startup constructs the Engine before its socket is bound, then attaches
// the transport once listening begins.
func (e *Engine) SetTransport(t Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport = t
}

// allocTxid returns the next non-zero transaction id, wrapping within the
// 32-bit space and skipping ids still in flight.
func (e *Engine) allocTxid() uint32 {
	for {
		e.nextTxid++
		if e.nextTxid == 0 {
			e.nextTxid = 1
		}
		if _, inFlight := e.pending[e.nextTxid]; !inFlight {
			return e.nextTxid
		}
	}
}

func (e *Engine) samplerFor(addr string) *Sampler {
	s, ok := e.samplers[addr]
	if !ok {
		s = NewSampler(e.cfg.MaxTimeout, e.cfg.BaselineMin)
		e.samplers[addr] = s
	}
	return s
}

// Call issues method against target with args and blocks until a response,
// an ERROR, the retry budget is exhausted, or ctx is cancelled. It retries
// up to cfg.MaxRetries times with exponential backoff on timeout.
func (e *Engine) Call(ctx context.Context, target types.NodeInfo, method wire.Method, args wire.RequestArgs) (*wire.ResponseResult, error) {
	var lastErr error
	backoff := e.cfg.BaselineMin
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		res, err := e.callOnce(ctx, target, method, args)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsTimeout(err) {
			return nil, err
		}
		if attempt < e.cfg.MaxRetries {
			select {
			case <-e.clock.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (e *Engine) callOnce(ctx context.Context, target types.NodeInfo, method wire.Method, args wire.RequestArgs) (*wire.ResponseResult, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, cancelledErr
	}
	txid := e.allocTxid()
	sampler := e.samplerFor(target.Addr())
	timeout := sampler.StallTimeout()
	now := e.clock.Now()
	call := newCall(txid, target, method, now, now.Add(timeout))
	e.pending[txid] = call
	transport := e.transport
	e.mu.Unlock()

	env := wire.NewRequest(txid, method, args)
	frame, err := e.codec.Encode(env)
	if err != nil {
		e.mu.Lock()
		delete(e.pending, txid)
		e.mu.Unlock()
		return nil, err
	}
	if err := transport.Send(ctx, target.Addr(), frame); err != nil {
		e.mu.Lock()
		delete(e.pending, txid)
		e.mu.Unlock()
		return nil, fmt.Errorf("rpc: send to %s: %w", target.Addr(), err)
	}

	timer := e.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case res := <-call.done:
		e.mu.Lock()
		delete(e.pending, txid)
		e.mu.Unlock()
		if res.Err != nil {
			return nil, res.Err
		}
		sampler.Observe(e.clock.Now().Sub(call.SentAt))
		return res.Response, nil
	case <-timer.C:
		e.mu.Lock()
		delete(e.pending, txid)
		e.mu.Unlock()
		return nil, timeoutErr
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, txid)
		e.mu.Unlock()
		return nil, ctx.Err()
	}
}

// HandleDatagram decodes a raw frame received from raddr. If it matches an
// in-flight call, the call is completed and (nil, false) is returned. If it
// is a REQUEST, it is returned for the caller (the message dispatcher) to
// handle, with ok=true. Unmatched RESPONSE/ERROR frames are dropped with a
// trace log.
func (e *Engine) HandleDatagram(raddr string, data []byte) (env *wire.Envelope, ok bool, err error) {
	if !e.throttle.Allow(raddr) {
		return nil, false, nil
	}
	decoded, err := e.codec.Decode(data)
	if err != nil {
		return nil, false, err
	}
	if decoded.Type == wire.TypeRequest {
		return &decoded, true, nil
	}

	e.mu.Lock()
	call, found := e.pending[decoded.Txid]
	if found {
		delete(e.pending, decoded.Txid)
	}
	e.mu.Unlock()
	if !found {
		log.WithFields(logrus.Fields{"txid": decoded.Txid, "from": raddr}).
			Trace("rpc: dropping response with no matching in-flight call")
		return nil, false, nil
	}

	if decoded.Type == wire.TypeError {
		call.complete(Result{Err: decoded.BosErr()})
		return nil, false, nil
	}
	call.complete(Result{Response: decoded.Response})
	return nil, false, nil
}

// Stop cancels every pending call with cancelledErr, not a timeout, and
// marks the engine unable to accept new calls.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for txid, call := range e.pending {
		call.complete(Result{Err: cancelledErr})
		delete(e.pending, txid)
	}
}

// PendingCount reports the number of in-flight outbound calls, used by tests.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
