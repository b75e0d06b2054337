package main

import (
	"context"
	"testing"
	"time"

	"github.com/exchange/engine/internal/balance"
	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/eventbus"
	"github.com/exchange/engine/internal/exchangeiface"
	"github.com/exchange/engine/internal/fsm"
	"github.com/exchange/engine/internal/idgen"
	"github.com/exchange/engine/internal/logging"
	"github.com/exchange/engine/internal/metrics"
	"github.com/exchange/engine/internal/order"
	"github.com/exchange/engine/internal/pool"
	"github.com/exchange/engine/internal/reservation"
)

func newTestMachine(t *testing.T) (*fsm.Machine, *pool.Pool, *eventbus.Bus) {
	t.Helper()
	holder := balance.New()
	ids, err := idgen.New(1)
	if err != nil {
		t.Fatalf("idgen.New: %v", err)
	}
	ledger := reservation.New(holder, ids)
	bus := eventbus.New(16)
	p := pool.New()
	logger := logging.New("test", nil)
	return fsm.New(p, ledger, bus, logger), p, bus
}

// testFeatures treats both REST and WS as authoritative for every event kind,
// matching the tests below that don't exercise source gating directly.
var testFeatures = exchangeiface.Features{
	AllowedCreateEventSource: exchangeiface.SourceAll,
	AllowedFillEventSource:   exchangeiface.SourceAll,
	AllowedCancelEventSource: exchangeiface.SourceAll,
}

func TestHandleWSEvent_Fill(t *testing.T) {
	machine, p, _ := newTestMachine(t)
	m := metrics.New()

	amount := decimal.MustNew("5")
	o := order.New("client-1", "acct", "ETHBTC", order.SideBuy, order.TypeLimit, amount, decimal.MustNew("0.2"), decimal.MustNew("0.0001"))
	h, err := p.AddInitial(o)
	if err != nil {
		t.Fatalf("AddInitial: %v", err)
	}
	_ = machine.ProcessCreateResponse(context.Background(), "client-1", order.SourceREST,
		&exchangeiface.CreateOrderResponse{ExchangeOrderID: "X1", Source: order.SourceREST}, nil, testFeatures)

	handleWSEvent(machine, m, exchangeiface.WSEvent{
		ExchangeOrderID: "X1",
		ClientOrderID:   "client-1",
		Kind:            exchangeiface.WSEventFill,
		Fill: &order.Fill{
			FillID:    "f1",
			Timestamp: time.Now(),
			Role:      order.RoleTaker,
			FillType:  order.FillUser,
			Price:     decimal.MustNew("0.2"),
			Amount:    amount,
			Cost:      amount.Mul(decimal.MustNew("0.2")),
		},
	}, testFeatures)

	snap := h.Snapshot()
	if snap.Status != order.StatusCompleted {
		t.Fatalf("expected order to complete on full fill, got %s", snap.Status)
	}
}

func TestHandleWSEvent_CancelSucceeded(t *testing.T) {
	machine, p, _ := newTestMachine(t)
	m := metrics.New()

	amount := decimal.MustNew("5")
	o := order.New("client-2", "acct", "ETHBTC", order.SideBuy, order.TypeLimit, amount, decimal.MustNew("0.2"), decimal.MustNew("0.0001"))
	h, err := p.AddInitial(o)
	if err != nil {
		t.Fatalf("AddInitial: %v", err)
	}
	_ = machine.ProcessCreateResponse(context.Background(), "client-2", order.SourceREST,
		&exchangeiface.CreateOrderResponse{ExchangeOrderID: "X2", Source: order.SourceREST}, nil, testFeatures)
	if err := machine.ProcessCancelRequest("client-2"); err != nil {
		t.Fatalf("ProcessCancelRequest: %v", err)
	}

	handleWSEvent(machine, m, exchangeiface.WSEvent{
		ExchangeOrderID: "X2",
		ClientOrderID:   "client-2",
		Kind:            exchangeiface.WSEventCancelSucceeded,
	}, testFeatures)

	snap := h.Snapshot()
	if snap.Status != order.StatusCanceled {
		t.Fatalf("expected order canceled, got %s", snap.Status)
	}

	// Duplicate WS cancel delivery must remain a no-op.
	handleWSEvent(machine, m, exchangeiface.WSEvent{
		ExchangeOrderID: "X2",
		ClientOrderID:   "client-2",
		Kind:            exchangeiface.WSEventCancelSucceeded,
	}, testFeatures)
	if snap2 := h.Snapshot(); snap2.Status != order.StatusCanceled {
		t.Fatalf("expected order to remain canceled after duplicate event, got %s", snap2.Status)
	}
}
