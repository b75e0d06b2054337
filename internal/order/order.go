// Package order defines the shared order/fill data model the pool and state
// machine operate on. Field layout follows exchange-order/internal/repository/order.go
// (OrderID/ClientOrderID/Symbol/Side/Type/Status/...), generalized from that service's
// single-exchange int status codes to the richer multi-exchange lifecycle this engine
// tracks (Creating/Created/Canceling/Canceled/Completed/FailedToCreate/FailedToCancel),
// and from scaled-integer price/qty columns to internal/decimal values so the same type
// serves every exchange's precision without a DB round trip.
package order

import (
	"time"

	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/xerrors"
)

// Side is the order direction.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// Type is the order type.
type Type int

const (
	TypeMarket Type = iota
	TypeLimit
	TypeStopLoss
	TypeTrailingStop
	TypeClosePosition
	TypeLiquidation
)

// ExecutionType further constrains how a Limit order may execute.
type ExecutionType int

const (
	ExecutionNone ExecutionType = iota
	ExecutionMakerOnly
)

// Status is the order's lifecycle state.
type Status int

const (
	StatusCreating Status = iota
	StatusCreated
	StatusCanceling
	StatusCanceled
	StatusCompleted
	StatusFailedToCreate
	StatusFailedToCancel
)

func (s Status) String() string {
	switch s {
	case StatusCreating:
		return "Creating"
	case StatusCreated:
		return "Created"
	case StatusCanceling:
		return "Canceling"
	case StatusCanceled:
		return "Canceled"
	case StatusCompleted:
		return "Completed"
	case StatusFailedToCreate:
		return "FailedToCreate"
	case StatusFailedToCancel:
		return "FailedToCancel"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further mutation may be accepted in this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusCompleted, StatusFailedToCreate, StatusFailedToCancel:
		return true
	default:
		return false
	}
}

// EventSourceType records which channel delivered an event, for
// AllowedEventSourceType feature-flag consultation and for auditing
// which source tie-broke an order's creation.
type EventSourceType int

const (
	SourceUnknown EventSourceType = iota
	SourceREST
	SourceWebSocket
)

func (t EventSourceType) String() string {
	switch t {
	case SourceREST:
		return "REST"
	case SourceWebSocket:
		return "WebSocket"
	default:
		return "Unknown"
	}
}

// Role is the maker/taker side of a fill.
type Role int

const (
	RoleMaker Role = iota
	RoleTaker
)

// FillType distinguishes ordinary user fills from liquidation/ADL fills.
type FillType int

const (
	FillUser FillType = iota
	FillLiquidation
)

// Commission describes the fee charged for a fill, in its native currency and
// (optionally) converted into the account's settlement currency.
type Commission struct {
	Currency        string
	Amount          *decimal.Decimal
	ConvertedAmount *decimal.Decimal
}

// Fill is one execution against an order. Fills are append-only; duplicates are
// detected by (order, FillID) — see Order.HasFill and Order.AppendFill.
type Fill struct {
	FillID     string
	Timestamp  time.Time
	Role       Role
	FillType   FillType
	Price      *decimal.Decimal
	Amount     *decimal.Decimal
	Cost       *decimal.Decimal
	Commission Commission
	IsDiff     bool
}

// StatusChange is one entry in an order's ordered status history.
type StatusChange struct {
	Status    Status
	Timestamp time.Time
}

// Order is one order's full lifecycle record. Order itself carries no
// synchronization — the pool's per-order Handle is the only path through which
// an Order is mutated, and it serializes writes with its own lock.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string // empty until the exchange confirms creation
	AccountID       string
	Symbol          string
	Side            Side
	Type            Type
	ExecutionType   ExecutionType
	Amount          *decimal.Decimal
	Price           *decimal.Decimal // nil for Market orders
	AmountTick      *decimal.Decimal // symbol metadata, used for fully-filled tolerance
	ReservationID   int64             // 0 means no reservation bound

	Status        Status
	Fills         []Fill
	StatusHistory []StatusChange

	LastErrorKind    xerrors.Code
	LastErrorMessage string

	CreationEventSource     EventSourceType
	CancellationEventRaised bool

	CreatedAt time.Time
}

// New constructs an Order in the Creating status, matching the pool's
// insert-new-order contract.
func New(clientOrderID, accountID, symbol string, side Side, typ Type, amount, price, amountTick *decimal.Decimal) *Order {
	now := time.Now()
	return &Order{
		ClientOrderID: clientOrderID,
		AccountID:     accountID,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		Amount:        amount,
		Price:         price,
		AmountTick:    amountTick,
		Status:        StatusCreating,
		StatusHistory: []StatusChange{{Status: StatusCreating, Timestamp: now}},
		CreatedAt:     now,
	}
}

// TotalFilled sums all recorded fill amounts.
func (o *Order) TotalFilled() *decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Amount)
	}
	return total
}

// HasFill reports whether a fill with the given id has already been recorded;
// callers must check this before appending a new fill.
func (o *Order) HasFill(fillID string) bool {
	for _, f := range o.Fills {
		if f.FillID == fillID {
			return true
		}
	}
	return false
}

// IsFullyFilled reports whether cumulative fills equal the requested amount
// within the symbol's tick tolerance: requested - filled <= amount_tick / 2.
func (o *Order) IsFullyFilled() bool {
	remaining := o.Amount.Sub(o.TotalFilled())
	if !remaining.IsPositive() {
		return true
	}
	tolerance := toleranceFor(o.AmountTick)
	return remaining.Cmp(tolerance) <= 0
}

func toleranceFor(amountTick *decimal.Decimal) *decimal.Decimal {
	if amountTick == nil || amountTick.IsZero() {
		return decimal.Zero
	}
	return amountTick.Half()
}

// TransitionTo appends status to the history and updates Status. The state
// machine package is responsible for checking IsTerminal before calling this;
// TransitionTo itself does not enforce the state graph so it can be reused for
// every edge in the transition table without duplicating the check.
func (o *Order) TransitionTo(status Status) {
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: status, Timestamp: time.Now()})
}

// AppendFill appends a fill without checking for duplicates; callers must call
// HasFill first.
func (o *Order) AppendFill(f Fill) {
	o.Fills = append(o.Fills, f)
}
