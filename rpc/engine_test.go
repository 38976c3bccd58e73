package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"boson/types"
	"boson/wire"
)

// loopbackTransport records every sent frame and hands it to handler, which a
// test sets to answer through the Engine's HandleDatagram. Tests that want
// a timeout simply leave handler nil.
type loopbackTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	handler func(addr string, frame []byte)
}

func (l *loopbackTransport) Send(_ context.Context, addr string, frame []byte) error {
	l.mu.Lock()
	l.sent = append(l.sent, frame)
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(addr, frame)
	}
	return nil
}

func testTarget() types.NodeInfo {
	return types.NodeInfo{Id: types.RandomId(), Host: "127.0.0.1", Port: 6881}
}

func TestCallReceivesResponse(t *testing.T) {
	mclock := clock.NewMock()
	transport := &loopbackTransport{}
	e := New(DefaultConfig(), transport, CBORCodec, mclock)

	selfId := types.RandomId()
	transport.handler = func(addr string, frame []byte) {
		env, err := CBORCodec.Decode(frame)
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		resp := wire.NewResponse(env.Txid, env.Method, wire.ResponseResult{Id: selfId})
		respFrame, err := CBORCodec.Encode(resp)
		if err != nil {
			t.Errorf("encode response: %v", err)
			return
		}
		go func() {
			if _, _, err := e.HandleDatagram(addr, respFrame); err != nil {
				t.Errorf("HandleDatagram: %v", err)
			}
		}()
	}

	res, err := e.Call(context.Background(), testTarget(), wire.MethodPing, wire.RequestArgs{Id: types.RandomId()})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Id.Equal(selfId) {
		t.Fatalf("expected response id %s, got %s", selfId, res.Id)
	}
	if e.PendingCount() != 0 {
		t.Fatalf("expected no pending calls after completion, got %d", e.PendingCount())
	}
}

func TestCallTimesOutAfterRetries(t *testing.T) {
	mclock := clock.NewMock()
	transport := &loopbackTransport{} // never replies
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.MaxTimeout = 200 * time.Millisecond
	cfg.BaselineMin = 10 * time.Millisecond
	e := New(cfg, transport, CBORCodec, mclock)

	done := make(chan error, 1)
	go func() {
		_, err := e.Call(context.Background(), testTarget(), wire.MethodPing, wire.RequestArgs{Id: types.RandomId()})
		done <- err
	}()

	// Advance the mock clock past the adaptive timeout, then past the retry
	// backoff, then past the second attempt's timeout.
	for i := 0; i < 6; i++ {
		mclock.Add(cfg.MaxTimeout)
	}

	select {
	case err := <-done:
		if !IsTimeout(err) {
			t.Fatalf("expected timeout error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return after simulated timeout")
	}
}

func TestHandleDatagramReturnsUnmatchedRequest(t *testing.T) {
	mclock := clock.NewMock()
	transport := &loopbackTransport{}
	e := New(DefaultConfig(), transport, CBORCodec, mclock)

	req := wire.NewRequest(42, wire.MethodPing, wire.RequestArgs{Id: types.RandomId()})
	frame, err := CBORCodec.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, ok, err := e.HandleDatagram("10.0.0.1:6881", frame)
	if err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
	if !ok || env == nil {
		t.Fatal("expected unmatched request to be returned for dispatch")
	}
	if env.Method != wire.MethodPing {
		t.Fatalf("expected PING, got %v", env.Method)
	}
}

func TestHandleDatagramDropsUnmatchedResponse(t *testing.T) {
	mclock := clock.NewMock()
	transport := &loopbackTransport{}
	e := New(DefaultConfig(), transport, CBORCodec, mclock)

	resp := wire.NewResponse(99, wire.MethodPing, wire.ResponseResult{Id: types.RandomId()})
	frame, err := CBORCodec.Encode(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, ok, err := e.HandleDatagram("10.0.0.1:6881", frame)
	if err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
	if ok || env != nil {
		t.Fatal("unmatched response must be dropped, not returned for dispatch")
	}
}

func TestStopCancelsPendingCalls(t *testing.T) {
	mclock := clock.NewMock()
	transport := &loopbackTransport{} // never replies
	e := New(DefaultConfig(), transport, CBORCodec, mclock)

	done := make(chan error, 1)
	go func() {
		_, err := e.Call(context.Background(), testTarget(), wire.MethodPing, wire.RequestArgs{Id: types.RandomId()})
		done <- err
	}()

	// Give the call a moment to register itself as pending.
	for i := 0; i < 100 && e.PendingCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	e.Stop()

	select {
	case err := <-done:
		if !IsCancelled(err) {
			t.Fatalf("expected cancellation error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return after Stop")
	}
}

func TestThrottleDropsExcessDatagrams(t *testing.T) {
	mclock := clock.NewMock()
	transport := &loopbackTransport{}
	cfg := DefaultConfig()
	cfg.ThrottleQPS = 1
	e := New(cfg, transport, CBORCodec, mclock)

	req := wire.NewRequest(1, wire.MethodPing, wire.RequestArgs{Id: types.RandomId()})
	frame, err := CBORCodec.Encode(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	admitted := 0
	for i := 0; i < 5; i++ {
		_, ok, err := e.HandleDatagram("10.0.0.2:6881", frame)
		if err != nil {
			t.Fatalf("HandleDatagram: %v", err)
		}
		if ok {
			admitted++
		}
	}
	if admitted >= 5 {
		t.Fatalf("expected throttle to drop some datagrams, admitted %d/5", admitted)
	}
}
