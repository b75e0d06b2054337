// Package eventbus implements the Event Bus (spec.md §4.6): a broadcast channel
// of exchange/order events to strategies and stats consumers, with a bounded
// per-subscriber buffer so one slow consumer cannot block publishers. Grounded
// on exchange-order/internal/ws/publisher.go's pub/sub fan-out (there, one Redis
// channel per user; here, one buffered Go channel per in-process subscriber),
// generalized from Redis cross-process delivery to an in-process broadcast with
// the same "never block the publisher" contract tokio::sync::broadcast gives the
// original implementation.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/xerrors"
)

// ErrLagged is returned by Subscription.Recv when the subscriber could not keep
// up and one or more events were dropped; the subscriber should resynchronize
// (e.g. re-query current state) rather than assume continuity.
var ErrLagged = errors.New("eventbus: subscriber lagged, some events were dropped")

// ErrClosed is returned once the bus has been closed and the subscriber's
// buffered events have been drained.
var ErrClosed = errors.New("eventbus: bus closed")

// OrderEventKind enumerates the order lifecycle events (spec.md §4.6).
type OrderEventKind int

const (
	CreateOrderSucceeded OrderEventKind = iota
	CreateOrderFailed
	CancelOrderSucceeded
	CancelOrderFailed
	OrderFilled
	OrderCompleted
)

// OrderEvent is emitted by the order state machine on every transition a
// strategy might care about.
type OrderEvent struct {
	ClientOrderID   string
	ExchangeOrderID string
	Kind            OrderEventKind
	ErrorKind       xerrors.Code
	ErrorMessage    string
}

// OrderBookEvent is emitted on order-book depth updates (facade/WS layer, out
// of this package's scope to populate in depth — the shape is carried so the
// bus can multiplex every spec.md §4.6 event kind through one channel).
type OrderBookEvent struct {
	Symbol string
}

// TradeEvent is emitted on a public trade print.
type TradeEvent struct {
	Symbol string
	Price  *decimal.Decimal
	Amount *decimal.Decimal
}

// BalanceUpdateEvent is emitted whenever the balance holder's diff changes.
type BalanceUpdateEvent struct {
	AccountID string
	Currency  string
	Amount    *decimal.Decimal
}

// Event is the union of everything the bus carries; exactly one field is set.
type Event struct {
	Order         *OrderEvent
	OrderBook     *OrderBookEvent
	Trade         *TradeEvent
	BalanceUpdate *BalanceUpdateEvent
}

type subscriber struct {
	ch     chan Event
	lagged int32 // atomic bool
}

// Bus is a multi-producer, multi-consumer broadcast channel.
type Bus struct {
	mu       sync.Mutex
	subs     map[uint64]*subscriber
	nextID   uint64
	capacity int
	closed   bool
}

// New constructs a Bus whose per-subscriber buffer holds capacity events before
// the subscriber is marked lagged (spec.md's CHANNEL_MAX_EVENTS_COUNT).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		subs:     make(map[uint64]*subscriber),
		capacity: capacity,
	}
}

// Publish fans e out to every current subscriber without blocking. A
// subscriber whose buffer is full has the event dropped and is marked lagged;
// it learns about the drop on its next Recv.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			atomic.StoreInt32(&s.lagged, 1)
		}
	}
}

// PublishOrderEvent is a convenience wrapper for the common case.
func (b *Bus) PublishOrderEvent(e OrderEvent) {
	b.Publish(Event{Order: &e})
}

// Stats reports the current subscriber count and how many of them are
// currently flagged lagged, for the control surface's /v1/stats endpoint
// (SPEC_FULL.md §4.10).
func (b *Bus) Stats() (subscribers, lagged int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscribers = len(b.subs)
	for _, s := range b.subs {
		if atomic.LoadInt32(&s.lagged) == 1 {
			lagged++
		}
	}
	return subscribers, lagged
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	bus *Bus
	id  uint64
	sub *subscriber
}

// Subscribe registers a new subscriber and returns its Subscription. The
// subscriber only sees events published after Subscribe returns.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.capacity)}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, sub: sub}
}

// Unsubscribe removes the subscription; subsequent Recv calls return ErrClosed
// once the buffered backlog is drained.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; !ok {
		// Already removed by an earlier Unsubscribe or by Bus.Close, which
		// closed the channel.
		return
	}
	delete(s.bus.subs, s.id)
	close(s.sub.ch)
}

// Recv returns the next event, ErrLagged if events were dropped since the last
// Recv, ErrClosed once the subscription has been torn down and drained, or
// ctx.Err() if ctx ends first.
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	if atomic.CompareAndSwapInt32(&s.sub.lagged, 1, 0) {
		return Event{}, ErrLagged
	}
	select {
	case e, ok := <-s.sub.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close tears down the bus: every subscriber's channel is closed so pending
// Recv calls unblock with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
