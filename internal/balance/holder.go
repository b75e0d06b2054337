// Package balance implements the Virtual Balance Holder (spec.md §4.4): a
// layered balance store where "actual" is overwritten wholesale by each
// exchange balance snapshot and "diff" accumulates adjustments from fills and
// transfers since the last snapshot. Grounded on
// original_source/src/core/balances/virtual_balance_holder.rs's update_balances
// (wholesale overwrite + diff reset for currencies present in the snapshot) and
// add_balance (diff accumulation); exchange-clearing/internal/service/clearing.go
// supplied the Go idiom for guarding the whole thing with one RWMutex instead of
// Rust's ServiceValueTree.
package balance

import (
	"sync"

	"github.com/exchange/engine/internal/decimal"
)

// Request identifies one (account, currency) balance cell.
type Request struct {
	AccountID string
	Currency  string
}

// Holder is the engine's layered balance store.
type Holder struct {
	mu     sync.RWMutex
	actual map[string]map[string]*decimal.Decimal
	diff   map[string]map[string]*decimal.Decimal
}

// New constructs an empty Holder.
func New() *Holder {
	return &Holder{
		actual: make(map[string]map[string]*decimal.Decimal),
		diff:   make(map[string]map[string]*decimal.Decimal),
	}
}

// UpdateBalances overwrites the actual snapshot for accountID wholesale and
// resets the diff to zero for every currency present in the snapshot — the
// snapshot already reflects everything that contributed to those diffs.
func (h *Holder) UpdateBalances(accountID string, balances map[string]*decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make(map[string]*decimal.Decimal, len(balances))
	for currency, amount := range balances {
		snapshot[currency] = amount
	}
	h.actual[accountID] = snapshot

	if h.diff[accountID] == nil {
		h.diff[accountID] = make(map[string]*decimal.Decimal)
	}
	for currency := range balances {
		h.diff[accountID][currency] = decimal.Zero
	}
}

// AddBalance adjusts the diff layer for req by delta (positive or negative),
// used when a fill or transfer changes a balance before the next snapshot
// arrives.
func (h *Holder) AddBalance(req Request, delta *decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.diff[req.AccountID] == nil {
		h.diff[req.AccountID] = make(map[string]*decimal.Decimal)
	}
	current := h.diff[req.AccountID][req.Currency]
	if current == nil {
		current = decimal.Zero
	}
	h.diff[req.AccountID][req.Currency] = current.Add(delta)
}

// HasAccount reports whether accountID has ever received a balance snapshot —
// used by the reservation ledger to detect an account that has since been
// removed (spec.md §4.3 "Unknown account").
func (h *Holder) HasAccount(accountID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.actual[accountID]
	return ok
}

// RawBalance returns actual + diff for req, without subtracting reservations —
// the reservation ledger subtracts its own reserved totals on top of this.
func (h *Holder) RawBalance(req Request) *decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()

	actual := decimal.Zero
	if m, ok := h.actual[req.AccountID]; ok {
		if v, ok := m[req.Currency]; ok {
			actual = v
		}
	}
	diff := decimal.Zero
	if m, ok := h.diff[req.AccountID]; ok {
		if v, ok := m[req.Currency]; ok {
			diff = v
		}
	}
	return actual.Add(diff)
}
