// Package pool implements the Order Pool: a triple index over
// live orders — by client-order-id (primary), by exchange-order-id (populated on
// creation-success), and by "not finished" (drained on terminal status) — all
// three pointing at the same underlying record. Mutation only happens through
// Pool.WithMut, which serializes writes to one order behind that order's own
// lock and re-indexes afterward, mirroring exchange-order/internal/service/order.go's
// pattern of loading one row, mutating it under its own transaction, and never
// letting two goroutines race on the same order.
package pool

import (
	"sync"

	"github.com/exchange/engine/internal/order"
	"github.com/exchange/engine/internal/xerrors"
)

// Handle is an exclusive, serialized reference to one order. The zero value is
// not usable; handles are only minted by Pool.AddInitial.
type Handle struct {
	mu    sync.Mutex
	order *order.Order
}

// Snapshot returns a point-in-time copy of the order's top-level fields, safe to
// read without holding any lock. Slice fields (Fills, StatusHistory) share their
// backing array with the live order; callers must treat them as read-only.
func (h *Handle) Snapshot() order.Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.order
}

// Pool is the engine's content-addressable store of live order snapshots.
type Pool struct {
	mu           sync.RWMutex
	byClientID   map[string]*Handle
	byExchangeID map[string]*Handle
	notFinished  map[string]*Handle // keyed by client-order-id
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{
		byClientID:   make(map[string]*Handle),
		byExchangeID: make(map[string]*Handle),
		notFinished:  make(map[string]*Handle),
	}
}

// AddInitial inserts a freshly constructed order (status Creating) and returns
// its handle. Inserting a duplicate client-order-id is a logic error: the spec
// requires callers to generate fresh ids, so this returns InvariantViolation
// rather than silently overwriting a live order.
func (p *Pool) AddInitial(o *order.Order) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byClientID[o.ClientOrderID]; exists {
		return nil, xerrors.Newf(xerrors.CodeInvariantViolation,
			"duplicate client order id %q inserted into pool", o.ClientOrderID)
	}

	h := &Handle{order: o}
	p.byClientID[o.ClientOrderID] = h
	p.notFinished[o.ClientOrderID] = h
	if o.ExchangeOrderID != "" {
		p.byExchangeID[o.ExchangeOrderID] = h
	}
	return h, nil
}

// ByClientID looks up a handle by client-order-id.
func (p *Pool) ByClientID(id string) (*Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byClientID[id]
	return h, ok
}

// ByExchangeID looks up a handle by exchange-order-id. Returns false until the
// order's creation has been acknowledged by the exchange.
func (p *Pool) ByExchangeID(id string) (*Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.byExchangeID[id]
	return h, ok
}

// WithMut applies f to the order behind h under that order's exclusive lock,
// then re-indexes: if f populated ExchangeOrderID, the order becomes reachable
// by ByExchangeID; if f transitioned the order into a terminal status, it is
// removed from the "not finished" index. Both happen automatically so callers
// never forget to re-index after a transition.
func (p *Pool) WithMut(h *Handle, f func(o *order.Order)) {
	h.mu.Lock()
	f(h.order)
	exchangeID := h.order.ExchangeOrderID
	clientID := h.order.ClientOrderID
	terminal := h.order.Status.IsTerminal()
	h.mu.Unlock()

	if exchangeID == "" && !terminal {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if exchangeID != "" {
		p.byExchangeID[exchangeID] = h
	}
	if terminal {
		delete(p.notFinished, clientID)
	}
}

// NotFinished returns every handle not yet in a terminal status; the control
// surface's /v1/stats open-order count is built from it.
func (p *Pool) NotFinished() []*Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Handle, 0, len(p.notFinished))
	for _, h := range p.notFinished {
		out = append(out, h)
	}
	return out
}

// Len returns the total number of orders the pool has ever indexed by
// client-order-id (including terminal ones still retained for lookups).
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byClientID)
}
