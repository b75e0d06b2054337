// Package exchangeiface defines the contract the core requires of an exchange
// adapter (spec.md §6). Concrete REST/WS clients for Binance/Bitmex/Serum are
// out of scope; this package only carries the interface, the discriminated
// result type, and the capability flags the order state machine consults to
// decide which event source is authoritative for a given exchange.
package exchangeiface

import (
	"context"

	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/order"
)

// ID is a closed enum of supported exchanges.
type ID int

const (
	Binance ID = iota
	Bitmex
	Serum
)

func (id ID) String() string {
	switch id {
	case Binance:
		return "Binance"
	case Bitmex:
		return "Bitmex"
	case Serum:
		return "Serum"
	default:
		return "Unknown"
	}
}

// EventSourceType mirrors order.EventSourceType plus the two collective values
// used only in feature flags (spec.md §6 "AllowedEventSourceType").
type EventSourceType int

const (
	SourceRest EventSourceType = iota
	SourceWebSocket
	SourceAll
	SourceFallbackOnly
)

// Features is the per-exchange capability-flag struct (spec.md §9 "keep as an
// interface with an enumerated capability-flag struct").
type Features struct {
	AllowedCreateEventSource EventSourceType
	AllowedFillEventSource   EventSourceType
	AllowedCancelEventSource EventSourceType

	// EmptyResponseIsOk: some exchanges (Bitmex) return HTTP 200 with an empty
	// body on success for certain endpoints. When true, the facade translates
	// that response into Success with a zero-value payload instead of a
	// Parsing error — decided at the facade-caller layer, not inside a
	// per-exchange error handler (SPEC_FULL.md §9).
	EmptyResponseIsOk bool

	// CreationResponseFromRestOnlyForErrors: when true, a REST creation
	// response is only acted on by the state machine if it is an error; REST
	// successes are dropped and only a WS creation-success drives the
	// Creating -> Created transition (SPEC_FULL.md §9).
	CreationResponseFromRestOnlyForErrors bool
}

// AllowsSource reports whether an event delivered via source is authoritative
// given allowed, per spec.md §6's event-sourcing rule.
func AllowsSource(allowed EventSourceType, source order.EventSourceType) bool {
	switch allowed {
	case SourceAll:
		return true
	case SourceRest:
		return source == order.SourceREST
	case SourceWebSocket:
		return source == order.SourceWebSocket
	case SourceFallbackOnly:
		// Fallback sources are accepted unconditionally: neither this function
		// nor internal/fsm tracks whether the primary source has already
		// delivered. A fallback cancel for an already-terminal order is a
		// no-op in internal/fsm, and a fallback fill with an already-applied
		// FillID is deduplicated there.
		return true
	default:
		return false
	}
}

// ResultKind discriminates the Error branch of Result (spec.md §6).
type ResultKind string

const (
	KindRateLimit         ResultKind = "RATE_LIMIT"
	KindAuthentication    ResultKind = "AUTHENTICATION"
	KindInvalidOrder      ResultKind = "INVALID_ORDER"
	KindOrderNotFound     ResultKind = "ORDER_NOT_FOUND"
	KindOrderCompleted    ResultKind = "ORDER_COMPLETED"
	KindInsufficientFunds ResultKind = "INSUFFICIENT_FUNDS"
	KindParsing           ResultKind = "PARSING"
	KindNetwork           ResultKind = "NETWORK"
	KindUnknown           ResultKind = "UNKNOWN"
)

// Error is the Error branch of the discriminated Result(T) the facade returns.
type Error struct {
	Kind    ResultKind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// CreateOrderRequest is the input to Facade.SubmitOrder.
type CreateOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          order.Side
	Type          order.Type
	ExecutionType order.ExecutionType
	Amount        *decimal.Decimal
	Price         *decimal.Decimal // nil for Market
}

// CreateOrderResponse is the Success(T) payload for order creation.
type CreateOrderResponse struct {
	ExchangeOrderID string
	Source          order.EventSourceType
}

// CancelOrderRequest is the input to Facade.CancelOrder.
type CancelOrderRequest struct {
	ExchangeOrderID string
	Symbol          string
}

// CancelOrderResponse is the Success(T) payload for order cancellation.
type CancelOrderResponse struct {
	Source order.EventSourceType
}

// OrderInfo is the Success(T) payload for Facade.GetOrderInfo.
type OrderInfo struct {
	ExchangeOrderID string
	Status          order.Status
	Fills           []order.Fill
}

// Balance is one (currency, amount) pair returned by Facade.GetBalance.
type Balance struct {
	Currency string
	Amount   *decimal.Decimal
}

// WSEvent is one event delivered by Facade.SubscribeWS: a creation ack,
// cancellation ack, or fill, tagged with its delivering source.
type WSEvent struct {
	ExchangeOrderID string
	ClientOrderID   string
	Kind            WSEventKind
	Fill            *order.Fill // set when Kind == WSEventFill
	Err             *Error      // set when Kind is a *Failed kind
}

// WSEventKind discriminates WSEvent.
type WSEventKind int

const (
	WSEventCreateSucceeded WSEventKind = iota
	WSEventCreateFailed
	WSEventCancelSucceeded
	WSEventCancelFailed
	WSEventFill
)

// Facade is the contract the core requires of an exchange adapter
// (spec.md §6). Concrete adapters for Binance/Bitmex/Serum are out of scope;
// see internal/fakeexchange for the in-memory reference implementation this
// core is tested against.
type Facade interface {
	ID() ID
	Features() Features

	SubmitOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, *Error)
	CancelOrder(ctx context.Context, req CancelOrderRequest) (*CancelOrderResponse, *Error)
	CancelAllOrders(ctx context.Context, symbol string) *Error
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, *Error)
	GetOrderInfo(ctx context.Context, exchangeOrderID, symbol string) (*OrderInfo, *Error)
	GetBalance(ctx context.Context, currency string) (*Balance, *Error)

	// SubscribeWS returns a channel of events for the given symbol channels.
	// The channel is closed when ctx is done.
	SubscribeWS(ctx context.Context, channels []string) (<-chan WSEvent, error)
}
