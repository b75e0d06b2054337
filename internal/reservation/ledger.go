// Package reservation implements the Balance Reservation Engine: named holds
// against the balance holder that back a future order, with atomic multi-leg
// reservation, price updates, and epsilon-tolerant release. Grounded on
// exchange-clearing/internal/service/clearing.go's Freeze/Unfreeze pattern
// (reserve-before-place, release-on-cancel/fill, idempotency via a handle) and
// on original_source/src/core/balances's reservation bookkeeping for the
// unreserved/approved split.
//
// Data-model note: a reservation's two stated invariants —
// "unreserved_amount + Σ approved ≤ amount" and "not_approved_amount =
// unreserved_amount − Σ approved" — read together with approve_part described
// as moving capital from the free pool into a named order's bucket, only make
// sense if UnreservedAmount already denotes the free (not-yet-approved) pool:
// approve_part debits UnreservedAmount directly, and NotApprovedAmount is
// simply an alias for it rather than a further subtraction. That is the
// reading implemented here; it is the one that keeps the invariant an
// equality-or-better at every step rather than an impossible constraint.
package reservation

import (
	"sync"

	"github.com/exchange/engine/internal/balance"
	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/order"
	"github.com/exchange/engine/internal/xerrors"
)

// IDGenerator mints process-unique reservation handles.
type IDGenerator interface {
	NextID() int64
}

// Params describes a single reservation request.
type Params struct {
	ConfigDescriptor string
	AccountID        string
	Symbol           string
	BaseCurrency     string
	QuoteCurrency    string
	Side             order.Side
	Price            *decimal.Decimal
	Amount           *decimal.Decimal
	AmountTick       *decimal.Decimal // reserved-currency tick, used for unreserve epsilon
	Inverse          bool             // true for inverse derivatives
}

// ReservedCurrency returns the currency this reservation locks: quote for Buy,
// base for Sell, inverted when the symbol is an inverse derivative.
func (p Params) ReservedCurrency() string {
	buyLocksQuote := p.Side == order.SideBuy
	if p.Inverse {
		buyLocksQuote = !buyLocksQuote
	}
	if buyLocksQuote {
		return p.QuoteCurrency
	}
	return p.BaseCurrency
}

// RequiredAmount returns the amount of ReservedCurrency this reservation needs:
// amount*price for Buy, amount for Sell (inverse derivatives invert the
// multiplication).
func (p Params) RequiredAmount() *decimal.Decimal {
	multiply := p.Side == order.SideBuy
	if p.Inverse {
		multiply = !multiply
	}
	if !multiply {
		return p.Amount
	}
	if p.Price == nil || p.Price.IsZero() {
		return decimal.Zero
	}
	return p.Amount.Mul(p.Price)
}

// Reservation is one live hold against the balance holder.
type Reservation struct {
	ID               int64
	Params           Params
	UnreservedAmount *decimal.Decimal // free capacity: not yet approved, not yet released
	Approved         map[string]*decimal.Decimal
}

// ApprovedTotal sums every approved part.
func (r *Reservation) ApprovedTotal() *decimal.Decimal {
	total := decimal.Zero
	for _, amt := range r.Approved {
		total = total.Add(amt)
	}
	return total
}

// NotApprovedAmount is an alias for UnreservedAmount under the reading
// documented at the top of this file.
func (r *Reservation) NotApprovedAmount() *decimal.Decimal {
	return r.UnreservedAmount
}

func epsilonFor(tick *decimal.Decimal) *decimal.Decimal {
	if tick == nil || tick.IsZero() {
		return decimal.Zero
	}
	return tick.Half()
}

// Ledger is the engine's reservation table, one per process.
type Ledger struct {
	mu           sync.Mutex
	holder       *balance.Holder
	idgen        IDGenerator
	reservations map[int64]*Reservation
	reservedSum  map[string]map[string]*decimal.Decimal // account -> currency -> live reserved total
}

// New constructs a Ledger backed by holder, minting reservation handles from idgen.
func New(holder *balance.Holder, idgen IDGenerator) *Ledger {
	return &Ledger{
		holder:       holder,
		idgen:        idgen,
		reservations: make(map[int64]*Reservation),
		reservedSum:  make(map[string]map[string]*decimal.Decimal),
	}
}

func (l *Ledger) reservedTotal(accountID, currency string) *decimal.Decimal {
	if m, ok := l.reservedSum[accountID]; ok {
		if v, ok := m[currency]; ok {
			return v
		}
	}
	return decimal.Zero
}

func (l *Ledger) addReservedTotal(accountID, currency string, delta *decimal.Decimal) {
	if l.reservedSum[accountID] == nil {
		l.reservedSum[accountID] = make(map[string]*decimal.Decimal)
	}
	l.reservedSum[accountID][currency] = l.reservedTotal(accountID, currency).Add(delta)
}

// availableLocked returns actual+diff-reserved for (accountID, currency).
// Callers must hold l.mu.
func (l *Ledger) availableLocked(accountID, currency string) *decimal.Decimal {
	raw := l.holder.RawBalance(balance.Request{AccountID: accountID, Currency: currency})
	return raw.Sub(l.reservedTotal(accountID, currency))
}

// CanReserve reports whether p's required amount is currently available,
// without reserving anything.
func (l *Ledger) CanReserve(p Params) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canReserveLocked(p)
}

func (l *Ledger) canReserveLocked(p Params) bool {
	available := l.availableLocked(p.AccountID, p.ReservedCurrency())
	return available.Cmp(p.RequiredAmount()) >= 0
}

// TryReserve attempts to reserve p's required amount; returns the new
// reservation or an InsufficientBalance error, mutating nothing on failure.
func (l *Ledger) TryReserve(p Params) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryReserveLocked(p)
}

func (l *Ledger) tryReserveLocked(p Params) (*Reservation, error) {
	if !l.canReserveLocked(p) {
		return nil, xerrors.ErrInsufficientBalance
	}
	required := p.RequiredAmount()
	res := &Reservation{
		ID:               l.idgen.NextID(),
		Params:           p,
		UnreservedAmount: required,
		Approved:         make(map[string]*decimal.Decimal),
	}
	l.reservations[res.ID] = res
	l.addReservedTotal(p.AccountID, p.ReservedCurrency(), required)
	return res, nil
}

// TryReservePair reserves both a and b atomically: either both succeed or
// neither is stored. Because the whole check-then-reserve sequence runs under
// the ledger's single mutex, atomicity falls out of serialization — there is
// no interleaving in which a concurrent caller could observe one leg reserved
// without the other, so no separate snapshot/rollback step is needed the way
// the original implementation's per-currency snapshot was.
func (l *Ledger) TryReservePair(a, b Params) (*Reservation, *Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resA, err := l.tryReserveLocked(a)
	if err != nil {
		return nil, nil, err
	}
	resB, err := l.tryReserveLocked(b)
	if err != nil {
		l.releaseLocked(resA)
		return nil, nil, err
	}
	return resA, resB, nil
}

// TryReserveThree is TryReservePair for three legs.
func (l *Ledger) TryReserveThree(a, b, c Params) (*Reservation, *Reservation, *Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resA, err := l.tryReserveLocked(a)
	if err != nil {
		return nil, nil, nil, err
	}
	resB, err := l.tryReserveLocked(b)
	if err != nil {
		l.releaseLocked(resA)
		return nil, nil, nil, err
	}
	resC, err := l.tryReserveLocked(c)
	if err != nil {
		l.releaseLocked(resA)
		l.releaseLocked(resB)
		return nil, nil, nil, err
	}
	return resA, resB, resC, nil
}

// releaseLocked fully removes a reservation and its reserved-total
// contribution; used to unwind a partially-succeeded multi-leg reserve.
func (l *Ledger) releaseLocked(r *Reservation) {
	l.addReservedTotal(r.Params.AccountID, r.Params.ReservedCurrency(), r.UnreservedAmount.Neg())
	delete(l.reservations, r.ID)
}

// TryUpdateReservation re-prices a reservation: a better price releases the
// delta back to balance; a worse price debits the delta if balance allows,
// otherwise fails without mutation.
func (l *Ledger) TryUpdateReservation(id int64, newPrice *decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return xerrors.Newf(xerrors.CodeInvalidParam, "unknown reservation %d", id)
	}

	oldParams := r.Params
	newParams := oldParams
	newParams.Price = newPrice
	oldRequired := oldParams.RequiredAmount()
	newRequired := newParams.RequiredAmount()
	delta := newRequired.Sub(oldRequired)

	currency := oldParams.ReservedCurrency()
	if delta.IsNegative() || delta.IsZero() {
		// Better (or equal) price: release the delta immediately, no balance check needed.
		// delta <= 0 so Add(delta) shrinks UnreservedAmount by the freed capital,
		// in step with the reserved total.
		l.addReservedTotal(oldParams.AccountID, currency, delta)
		r.UnreservedAmount = r.UnreservedAmount.Add(delta)
		r.Params = newParams
		return nil
	}

	// Worse price: requires more of the reserved currency.
	available := l.availableLocked(oldParams.AccountID, currency)
	if available.Cmp(delta) < 0 {
		return xerrors.ErrInsufficientBalance
	}
	l.addReservedTotal(oldParams.AccountID, currency, delta)
	r.UnreservedAmount = r.UnreservedAmount.Add(delta)
	r.Params = newParams
	return nil
}

// ApprovePart binds amount of reservation id to clientOrderID, moving it from
// the reservation's free pool into its approved map.
func (l *Ledger) ApprovePart(id int64, clientOrderID string, amount *decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return xerrors.Newf(xerrors.CodeInvalidParam, "unknown reservation %d", id)
	}
	if amount.Cmp(r.UnreservedAmount) > 0 {
		return xerrors.Newf(xerrors.CodeInvalidParam,
			"cannot approve %s against reservation %d with only %s free", amount, id, r.UnreservedAmount)
	}
	r.UnreservedAmount = r.UnreservedAmount.Sub(amount)
	existing := r.Approved[clientOrderID]
	if existing == nil {
		existing = decimal.Zero
	}
	r.Approved[clientOrderID] = existing.Add(amount)
	return nil
}

// Unreserve releases amount of reservation id back to free balance. Amounts
// exceeding the remaining unreserved amount by up to the reservation's tick
// epsilon are clamped rather than rejected; amounts at or below the epsilon
// are a no-op success. An account no longer known to the balance holder makes
// this a silent no-op — the reservation is left intact rather than leaking
// balance.
func (l *Ledger) Unreserve(id int64, amount *decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[id]
	if !ok {
		return xerrors.Newf(xerrors.CodeInvalidParam, "unknown reservation %d", id)
	}

	if !l.holder.HasAccount(r.Params.AccountID) {
		return nil
	}

	epsilon := epsilonFor(r.Params.AmountTick)
	if amount.Cmp(epsilon) <= 0 {
		return nil
	}

	toRelease := amount
	over := amount.Sub(r.UnreservedAmount)
	if over.IsPositive() {
		if over.Cmp(epsilon) > 0 {
			return xerrors.Newf(xerrors.CodeInvalidParam,
				"unreserve amount %s exceeds remaining %s by more than epsilon %s", amount, r.UnreservedAmount, epsilon)
		}
		toRelease = r.UnreservedAmount
	}

	currency := r.Params.ReservedCurrency()
	l.addReservedTotal(r.Params.AccountID, currency, toRelease.Neg())
	r.UnreservedAmount = r.UnreservedAmount.Sub(toRelease)

	if !r.UnreservedAmount.IsPositive() {
		delete(l.reservations, id)
	}
	return nil
}

// ReleaseRemainder unreserves whatever is still free on reservation id,
// closing it out entirely. Used by the order state machine when an order
// reaches Completed or Canceled.
func (l *Ledger) ReleaseRemainder(id int64) error {
	l.mu.Lock()
	r, ok := l.reservations[id]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	remaining := r.UnreservedAmount
	l.mu.Unlock()

	if !remaining.IsPositive() {
		return nil
	}
	return l.Unreserve(id, remaining)
}

// GetReservation returns a copy of the live reservation, if any.
func (l *Ledger) GetReservation(id int64) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return Reservation{}, false
	}
	return *r, true
}

// GetBalanceBySide returns available balance for the currency a given side
// would reserve, given the rest of the reservation parameters.
func (l *Ledger) GetBalanceBySide(p Params) *decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(p.AccountID, p.ReservedCurrency())
}

// GetBalanceByReserveParameters is an alias of GetBalanceBySide kept for
// parity with the reservation engine's other named operations.
func (l *Ledger) GetBalanceByReserveParameters(p Params) *decimal.Decimal {
	return l.GetBalanceBySide(p)
}

// ActiveCount reports the number of currently open reservations, used by the
// control surface's /v1/stats endpoint.
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reservations)
}
