package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttle is a leaky-bucket admission gate keyed by remote endpoint
// ("host:port"), backed by golang.org/x/time/rate limiters. Datagrams from
// an endpoint exceeding its budget are dropped before dispatch.
type Throttle struct {
	mu       sync.Mutex
	qps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a throttle admitting up to qps requests per second per
// endpoint, with a burst of the same size.
func NewThrottle(qps int) *Throttle {
	if qps <= 0 {
		qps = 20
	}
	return &Throttle{
		qps:      rate.Limit(qps),
		burst:    qps,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a datagram from endpoint may proceed, consuming one
// token from its bucket if so.
func (t *Throttle) Allow(endpoint string) bool {
	t.mu.Lock()
	l, ok := t.limiters[endpoint]
	if !ok {
		l = rate.NewLimiter(t.qps, t.burst)
		t.limiters[endpoint] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

// Forget drops the limiter for endpoint, reclaiming memory for peers that
// have left the network.
func (t *Throttle) Forget(endpoint string) {
	t.mu.Lock()
	delete(t.limiters, endpoint)
	t.mu.Unlock()
}
