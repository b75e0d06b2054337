// Package fakeexchange is the in-memory reference exchangeiface.Facade the
// core is developed and tested against in the absence of real Binance/Bitmex/
// Serum adapters (those are explicitly out of scope — spec.md §6 Non-goals).
// Its command/event split is grounded on
// exchange-matching/internal/engine/engine.go's single-goroutine command loop
// (Submit enqueues, a private run loop drains and emits), adapted here so
// SubmitOrder/CancelOrder return the REST-style ack synchronously while a
// goroutine started by each call delivers the matching WS-style fill/cancel
// confirmation asynchronously on the subscriber fan-out — letting tests exercise the exact
// REST/WS race the state machine reconciles.
package fakeexchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/exchangeiface"
	"github.com/exchange/engine/internal/order"
)

// simOrder is the exchange-side bookkeeping for one resting order.
type simOrder struct {
	exchangeOrderID string
	clientOrderID   string
	symbol          string
	side            order.Side
	amount          *decimal.Decimal
	price           *decimal.Decimal
	leaves          *decimal.Decimal
	canceled        bool
	completed       bool
}

// Exchange is a single-symbol-agnostic in-memory facade: it accepts orders,
// immediately fills them in full against their own limit price (there is no
// real counterparty liquidity to match against), and delivers the fill as a
// WS event on a short delay so tests see the REST ack and the WS fill as two
// distinct, independently-racing events — exactly what spec.md §4.2's
// reconciliation rules are written against.
type Exchange struct {
	id       exchangeiface.ID
	features exchangeiface.Features

	mu      sync.Mutex
	orders  map[string]*simOrder
	idSeq   int64
	balance map[string]*decimal.Decimal

	subMu sync.Mutex
	subs  map[int64]chan exchangeiface.WSEvent
	subID int64

	fillDelay time.Duration
}

// New constructs a fake exchange under the given identity and capability
// flags. fillDelay controls how long the delivery goroutine SubmitOrder starts
// for each order waits before the matching WS fill event is published; zero
// delivers it as soon as that goroutine is scheduled.
func New(id exchangeiface.ID, features exchangeiface.Features, fillDelay time.Duration) *Exchange {
	return &Exchange{
		id:        id,
		features:  features,
		orders:    make(map[string]*simOrder),
		balance:   make(map[string]*decimal.Decimal),
		subs:      make(map[int64]chan exchangeiface.WSEvent),
		fillDelay: fillDelay,
	}
}

func (e *Exchange) ID() exchangeiface.ID             { return e.id }
func (e *Exchange) Features() exchangeiface.Features { return e.features }

// SetBalance seeds the fake exchange's own account balance, used by
// GetBalance; it has no bearing on internal/balance.Holder, which the core
// maintains independently from snapshots this facade would normally deliver.
func (e *Exchange) SetBalance(currency string, amount *decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance[currency] = amount
}

func (e *Exchange) SubmitOrder(ctx context.Context, req exchangeiface.CreateOrderRequest) (*exchangeiface.CreateOrderResponse, *exchangeiface.Error) {
	if req.Amount == nil || !req.Amount.IsPositive() {
		return nil, &exchangeiface.Error{Kind: exchangeiface.KindInvalidOrder, Message: "amount must be positive"}
	}

	e.mu.Lock()
	e.idSeq++
	exchangeOrderID := "fake-" + strconv.FormatInt(e.idSeq, 10)
	so := &simOrder{
		exchangeOrderID: exchangeOrderID,
		clientOrderID:   req.ClientOrderID,
		symbol:          req.Symbol,
		side:            req.Side,
		amount:          req.Amount,
		price:           req.Price,
		leaves:          req.Amount,
	}
	e.orders[exchangeOrderID] = so
	e.mu.Unlock()

	go e.deliverFill(so)

	return &exchangeiface.CreateOrderResponse{ExchangeOrderID: exchangeOrderID, Source: order.SourceREST}, nil
}

// deliverFill is the run-loop equivalent of engine.processNewOrder: since this
// facade has no counterparty book, every order fills in full against its own
// price (or a zero price for Market orders) after fillDelay.
func (e *Exchange) deliverFill(so *simOrder) {
	if e.fillDelay > 0 {
		time.Sleep(e.fillDelay)
	}

	e.mu.Lock()
	if so.canceled || so.completed {
		e.mu.Unlock()
		return
	}
	so.leaves = decimal.Zero
	so.completed = true
	price := so.price
	if price == nil {
		price = decimal.Zero
	}
	e.mu.Unlock()

	e.publish(exchangeiface.WSEvent{
		ExchangeOrderID: so.exchangeOrderID,
		ClientOrderID:   so.clientOrderID,
		Kind:            exchangeiface.WSEventFill,
		Fill: &order.Fill{
			FillID:    so.exchangeOrderID + "-f1",
			Timestamp: time.Now(),
			Role:      order.RoleTaker,
			FillType:  order.FillUser,
			Price:     price,
			Amount:    so.amount,
			Cost:      so.amount.Mul(price),
		},
	})
}

func (e *Exchange) CancelOrder(ctx context.Context, req exchangeiface.CancelOrderRequest) (*exchangeiface.CancelOrderResponse, *exchangeiface.Error) {
	e.mu.Lock()
	so, ok := e.orders[req.ExchangeOrderID]
	if !ok {
		e.mu.Unlock()
		return nil, &exchangeiface.Error{Kind: exchangeiface.KindOrderNotFound, Message: "no such order"}
	}
	if so.completed {
		e.mu.Unlock()
		return nil, &exchangeiface.Error{Kind: exchangeiface.KindOrderCompleted, Message: "order already completed"}
	}
	if so.canceled {
		e.mu.Unlock()
		return &exchangeiface.CancelOrderResponse{Source: order.SourceREST}, nil
	}
	so.canceled = true
	e.mu.Unlock()

	go e.publish(exchangeiface.WSEvent{
		ExchangeOrderID: req.ExchangeOrderID,
		ClientOrderID:   so.clientOrderID,
		Kind:            exchangeiface.WSEventCancelSucceeded,
	})

	return &exchangeiface.CancelOrderResponse{Source: order.SourceREST}, nil
}

func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) *exchangeiface.Error {
	e.mu.Lock()
	var toCancel []*simOrder
	for _, so := range e.orders {
		if so.symbol == symbol && !so.completed && !so.canceled {
			so.canceled = true
			toCancel = append(toCancel, so)
		}
	}
	e.mu.Unlock()

	for _, so := range toCancel {
		go e.publish(exchangeiface.WSEvent{
			ExchangeOrderID: so.exchangeOrderID,
			ClientOrderID:   so.clientOrderID,
			Kind:            exchangeiface.WSEventCancelSucceeded,
		})
	}
	return nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]exchangeiface.OrderInfo, *exchangeiface.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []exchangeiface.OrderInfo
	for _, so := range e.orders {
		if so.symbol != symbol || so.completed || so.canceled {
			continue
		}
		out = append(out, exchangeiface.OrderInfo{ExchangeOrderID: so.exchangeOrderID, Status: order.StatusCreated})
	}
	return out, nil
}

func (e *Exchange) GetOrderInfo(ctx context.Context, exchangeOrderID, symbol string) (*exchangeiface.OrderInfo, *exchangeiface.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	so, ok := e.orders[exchangeOrderID]
	if !ok {
		return nil, &exchangeiface.Error{Kind: exchangeiface.KindOrderNotFound, Message: "no such order"}
	}
	status := order.StatusCreated
	switch {
	case so.completed:
		status = order.StatusCompleted
	case so.canceled:
		status = order.StatusCanceled
	}
	return &exchangeiface.OrderInfo{ExchangeOrderID: so.exchangeOrderID, Status: status}, nil
}

func (e *Exchange) GetBalance(ctx context.Context, currency string) (*exchangeiface.Balance, *exchangeiface.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	amt, ok := e.balance[currency]
	if !ok {
		amt = decimal.Zero
	}
	return &exchangeiface.Balance{Currency: currency, Amount: amt}, nil
}

func (e *Exchange) SubscribeWS(ctx context.Context, channels []string) (<-chan exchangeiface.WSEvent, error) {
	ch := make(chan exchangeiface.WSEvent, 64)

	e.subMu.Lock()
	e.subID++
	id := e.subID
	e.subs[id] = ch
	e.subMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subMu.Lock()
		delete(e.subs, id)
		close(ch)
		e.subMu.Unlock()
	}()

	return ch, nil
}

func (e *Exchange) publish(evt exchangeiface.WSEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop rather than block the fake exchange's
			// single fill-delivery goroutine per order.
		}
	}
}
