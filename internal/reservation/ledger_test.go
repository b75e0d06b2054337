package reservation

import (
	"testing"

	"github.com/exchange/engine/internal/balance"
	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/order"
)

type seqIDGen struct{ next int64 }

func (g *seqIDGen) NextID() int64 {
	g.next++
	return g.next
}

func newTestLedger(t *testing.T) (*Ledger, *balance.Holder) {
	t.Helper()
	h := balance.New()
	l := New(h, &seqIDGen{})
	return l, h
}

func buyParams(accountID string, amount, price *decimal.Decimal) Params {
	return Params{
		AccountID:     accountID,
		Symbol:        "ETHBTC",
		BaseCurrency:  "ETH",
		QuoteCurrency: "BTC",
		Side:          order.SideBuy,
		Amount:        amount,
		Price:         price,
		AmountTick:    decimal.MustNew("0.0001"),
	}
}

func sellParams(accountID string, amount, price *decimal.Decimal) Params {
	p := buyParams(accountID, amount, price)
	p.Side = order.SideSell
	return p
}

// S3 — Insufficient balance.
func TestTryReserveInsufficientBalance(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("0.5")})

	_, err := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if got := l.GetBalanceBySide(buyParams("acct1", decimal.Zero, decimal.MustNew("0.2"))); got.Cmp(decimal.MustNew("0.5")) != 0 {
		t.Fatalf("balance should be untouched, got %s", got)
	}
}

// S1-ish — happy path reserve then full release.
func TestTryReserveThenReleaseRemainder(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.0")})

	res, err := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if res.ID == 0 {
		t.Fatal("expected non-zero reservation id")
	}
	avail := l.GetBalanceBySide(buyParams("acct1", decimal.Zero, decimal.MustNew("0.2")))
	if !avail.IsZero() {
		t.Fatalf("expected 0 available after reserving all BTC, got %s", avail)
	}

	if err := l.ReleaseRemainder(res.ID); err != nil {
		t.Fatalf("ReleaseRemainder: %v", err)
	}
	avail = l.GetBalanceBySide(buyParams("acct1", decimal.Zero, decimal.MustNew("0.2")))
	if avail.Cmp(decimal.MustNew("1.0")) != 0 {
		t.Fatalf("expected full balance restored, got %s", avail)
	}
	if _, ok := l.GetReservation(res.ID); ok {
		t.Fatal("reservation should be removed once fully released")
	}
}

// S4 — Update reservation to a better price.
func TestTryUpdateReservationBetterPrice(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.1")})

	res, err := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	// reserved 1.0, leaves 0.1 available
	if got := l.GetBalanceBySide(buyParams("acct1", decimal.Zero, decimal.Zero)); got.Cmp(decimal.MustNew("0.1")) != 0 {
		t.Fatalf("expected 0.1 available, got %s", got)
	}

	if err := l.TryUpdateReservation(res.ID, decimal.MustNew("0.1")); err != nil {
		t.Fatalf("TryUpdateReservation: %v", err)
	}
	if got := l.GetBalanceBySide(buyParams("acct1", decimal.Zero, decimal.Zero)); got.Cmp(decimal.MustNew("0.6")) != 0 {
		t.Fatalf("expected 0.6 available after better-price update, got %s", got)
	}
}

func TestTryUpdateReservationWorsePriceInsufficientFundsNoMutation(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.0")})

	res, err := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}

	if err := l.TryUpdateReservation(res.ID, decimal.MustNew("0.5")); err == nil {
		t.Fatal("expected failure updating to a worse price with insufficient funds")
	}

	got, _ := l.GetReservation(res.ID)
	if got.Params.Price.Cmp(decimal.MustNew("0.2")) != 0 {
		t.Fatalf("price should remain unchanged, got %s", got.Params.Price)
	}
}

// S5 — Pair atomicity.
func TestTryReservePairFailsAtomically(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.Zero, "ETH": decimal.MustNew("5")})

	buy := buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2"))  // needs BTC, has 0
	sell := sellParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")) // needs ETH, has 5

	_, _, err := l.TryReservePair(buy, sell)
	if err == nil {
		t.Fatal("expected pair reserve to fail")
	}
	ethAvail := l.GetBalanceBySide(sellParams("acct1", decimal.Zero, decimal.Zero))
	if ethAvail.Cmp(decimal.MustNew("5")) != 0 {
		t.Fatalf("ETH balance should be untouched after failed pair reserve, got %s", ethAvail)
	}
}

func TestTryReservePairSucceedsTogether(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1"), "ETH": decimal.MustNew("5")})

	buy := buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2"))
	sell := sellParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2"))

	resA, resB, err := l.TryReservePair(buy, sell)
	if err != nil {
		t.Fatalf("TryReservePair: %v", err)
	}
	if resA.ID == resB.ID {
		t.Fatal("expected distinct reservation ids")
	}
}

func TestApprovePartAndUnreserve(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.0")})

	res, err := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}

	if err := l.ApprovePart(res.ID, "c1", decimal.MustNew("0.6")); err != nil {
		t.Fatalf("ApprovePart: %v", err)
	}
	got, _ := l.GetReservation(res.ID)
	if got.UnreservedAmount.Cmp(decimal.MustNew("0.4")) != 0 {
		t.Fatalf("expected 0.4 unreserved after approving 0.6 of 1.0, got %s", got.UnreservedAmount)
	}
	if got.ApprovedTotal().Cmp(decimal.MustNew("0.6")) != 0 {
		t.Fatalf("expected approved total 0.6, got %s", got.ApprovedTotal())
	}

	if err := l.Unreserve(res.ID, decimal.MustNew("0.4")); err != nil {
		t.Fatalf("Unreserve: %v", err)
	}
	if _, ok := l.GetReservation(res.ID); ok {
		t.Fatal("reservation should be closed once fully unreserved")
	}
}

func TestUnreserveZeroIsNoOp(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.0")})
	res, _ := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))

	if err := l.Unreserve(res.ID, decimal.Zero); err != nil {
		t.Fatalf("Unreserve(0): %v", err)
	}
	got, ok := l.GetReservation(res.ID)
	if !ok || got.UnreservedAmount.Cmp(decimal.MustNew("1.0")) != 0 {
		t.Fatal("zero unreserve must not change state")
	}
}

func TestUnreserveWithinEpsilonClamps(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.0")})
	res, _ := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))

	// amount_tick = 0.0001, epsilon = 0.00005; ask to release slightly more than held.
	over := decimal.MustNew("1.00003")
	if err := l.Unreserve(res.ID, over); err != nil {
		t.Fatalf("Unreserve within epsilon should clamp and succeed: %v", err)
	}
	if _, ok := l.GetReservation(res.ID); ok {
		t.Fatal("reservation should be fully released when clamped amount covers it all")
	}
}

func TestUnreserveBeyondEpsilonRejected(t *testing.T) {
	l, h := newTestLedger(t)
	h.UpdateBalances("acct1", map[string]*decimal.Decimal{"BTC": decimal.MustNew("1.0")})
	res, _ := l.TryReserve(buyParams("acct1", decimal.MustNew("5"), decimal.MustNew("0.2")))

	over := decimal.MustNew("1.01")
	if err := l.Unreserve(res.ID, over); err == nil {
		t.Fatal("expected rejection for over-ask beyond epsilon")
	}
}

func TestUnreserveUnknownAccountIsSilentNoOp(t *testing.T) {
	l, _ := newTestLedger(t)

	// "ghost" has never received a balance snapshot, so required-amount-zero
	// trivially passes CanReserve; what matters here is Unreserve's behavior
	// against an account the holder has never heard of.
	res, err := l.TryReserve(buyParams("ghost", decimal.Zero, decimal.MustNew("0.2")))
	if err != nil {
		t.Fatalf("TryReserve for zero amount should succeed: %v", err)
	}

	if err := l.Unreserve(res.ID, decimal.MustNew("5")); err != nil {
		t.Fatalf("unreserve against unknown account should be a silent no-op, got error: %v", err)
	}
	if _, ok := l.GetReservation(res.ID); !ok {
		t.Fatal("reservation must remain intact when the account is unknown")
	}
}
