// Package validate checks order and reservation parameters before they reach the
// pool or the ledger. Adapted from exchange-common/pkg/validate, which validates
// API-layer requests (symbol/side/precision regexes); here the same tick-alignment
// and positivity checks are re-expressed against internal/decimal values instead of
// scaled integers, since the core never sees raw wire precision.
package validate

import (
	"regexp"

	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/xerrors"
)

var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// Symbol reports whether s is a well-formed trading pair symbol (e.g. BTCUSDT).
func Symbol(s string) error {
	if !symbolRe.MatchString(s) {
		return xerrors.Newf(xerrors.CodeInvalidParam, "invalid symbol: %q", s)
	}
	return nil
}

// Side reports whether s is one of "BUY" or "SELL".
func Side(s string) error {
	switch s {
	case "BUY", "SELL":
		return nil
	default:
		return xerrors.Newf(xerrors.CodeInvalidParam, "invalid side: %q", s)
	}
}

// Positive reports an error if d is nil, zero, or negative.
func Positive(field string, d *decimal.Decimal) error {
	if d == nil || !d.IsPositive() {
		return xerrors.Newf(xerrors.CodeInvalidParam, "%s must be positive", field)
	}
	return nil
}

// NonNegative reports an error if d is nil or strictly negative.
func NonNegative(field string, d *decimal.Decimal) error {
	if d == nil || d.IsNegative() {
		return xerrors.Newf(xerrors.CodeInvalidParam, "%s must not be negative", field)
	}
	return nil
}

// TickAligned reports an error if amount is not an exact multiple of tick.
// tick of zero or nil disables the check (some exchanges report no tick size).
func TickAligned(field string, amount, tick *decimal.Decimal) error {
	if tick == nil || tick.IsZero() {
		return nil
	}
	rounded := amount.RoundToTick(tick)
	if rounded.Cmp(amount) != 0 {
		return xerrors.Newf(xerrors.CodeInvalidParam, "%s %s is not aligned to tick %s", field, amount, tick)
	}
	return nil
}

// ReservationParams validates the parameters of a balance reservation request:
// the amount must be positive and tick-aligned to the instrument's amount tick.
func ReservationParams(amount, amountTick *decimal.Decimal) error {
	if err := Positive("amount", amount); err != nil {
		return err
	}
	return TickAligned("amount", amount, amountTick)
}
