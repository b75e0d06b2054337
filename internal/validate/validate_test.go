package validate

import (
	"testing"

	"github.com/exchange/engine/internal/decimal"
)

func TestSymbol(t *testing.T) {
	if err := Symbol("BTCUSDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Symbol("btc-usdt"); err == nil {
		t.Fatal("expected error for lowercase/hyphenated symbol")
	}
}

func TestSide(t *testing.T) {
	if err := Side("BUY"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Side("buy"); err == nil {
		t.Fatal("expected error for lowercase side")
	}
}

func TestPositive(t *testing.T) {
	if err := Positive("amount", decimal.MustNew("1.5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Positive("amount", decimal.Zero); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if err := Positive("amount", decimal.MustNew("-1")); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestTickAligned(t *testing.T) {
	amount := decimal.MustNew("1.50")
	tick := decimal.MustNew("0.25")
	if err := TickAligned("amount", amount, tick); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	misaligned := decimal.MustNew("1.51")
	if err := TickAligned("amount", misaligned, tick); err == nil {
		t.Fatal("expected error for misaligned amount")
	}

	if err := TickAligned("amount", amount, nil); err != nil {
		t.Fatalf("nil tick should disable check, got: %v", err)
	}
}

func TestReservationParams(t *testing.T) {
	if err := ReservationParams(decimal.MustNew("2.00"), decimal.MustNew("0.50")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ReservationParams(decimal.Zero, decimal.MustNew("0.50")); err == nil {
		t.Fatal("expected error for zero amount")
	}
}
