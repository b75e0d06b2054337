package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/exchange/engine/internal/logging"
)

// wireEvent is the JSON shape republished onto the Redis stream — a flattened
// view of Event so a cross-process consumer (a stats dashboard, an external
// strategy process) doesn't need this package's Go types to decode it.
type wireEvent struct {
	Kind string `json:"kind"`

	ClientOrderID   string `json:"client_order_id,omitempty"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	OrderEventKind  string `json:"order_event_kind,omitempty"`
	ErrorKind       string `json:"error_kind,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`

	Symbol string `json:"symbol,omitempty"`
	Price  string `json:"price,omitempty"`
	Amount string `json:"amount,omitempty"`

	AccountID string `json:"account_id,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

var orderEventKindNames = [...]string{
	"CreateOrderSucceeded",
	"CreateOrderFailed",
	"CancelOrderSucceeded",
	"CancelOrderFailed",
	"OrderFilled",
	"OrderCompleted",
}

func (k OrderEventKind) String() string {
	if int(k) < 0 || int(k) >= len(orderEventKindNames) {
		return "Unknown"
	}
	return orderEventKindNames[k]
}

func toWire(e Event) (wireEvent, bool) {
	switch {
	case e.Order != nil:
		return wireEvent{
			Kind:            "order",
			ClientOrderID:   e.Order.ClientOrderID,
			ExchangeOrderID: e.Order.ExchangeOrderID,
			OrderEventKind:  e.Order.Kind.String(),
			ErrorKind:       string(e.Order.ErrorKind),
			ErrorMessage:    e.Order.ErrorMessage,
		}, true
	case e.Trade != nil:
		w := wireEvent{Kind: "trade", Symbol: e.Trade.Symbol}
		if e.Trade.Price != nil {
			w.Price = e.Trade.Price.String()
		}
		if e.Trade.Amount != nil {
			w.Amount = e.Trade.Amount.String()
		}
		return w, true
	case e.OrderBook != nil:
		return wireEvent{Kind: "orderbook", Symbol: e.OrderBook.Symbol}, true
	case e.BalanceUpdate != nil:
		w := wireEvent{
			Kind:      "balance",
			AccountID: e.BalanceUpdate.AccountID,
			Currency:  e.BalanceUpdate.Currency,
		}
		if e.BalanceUpdate.Amount != nil {
			w.Amount = e.BalanceUpdate.Amount.String()
		}
		return w, true
	default:
		return wireEvent{}, false
	}
}

// StreamPublisher is the redis.Client surface the relay needs; satisfied by
// *redis.Client and by the redismock/miniredis doubles used in tests.
type StreamPublisher interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Relay republishes every event seen on a Bus subscription onto a Redis
// stream, so an out-of-process consumer (a stats dashboard, a separate
// strategy process) can observe the same events a local Subscription would,
// without depending on this package's Go types. Grounded on
// exchange-common/pkg/redis/stream.go's StreamClient.Publish (JSON-over-XAdd)
// and exchange-order/internal/ws/publisher.go's "one stream per event class"
// fan-out, adapted from per-user Redis channels to one process-wide stream
// that carries every event kind.
type Relay struct {
	client StreamPublisher
	stream string
	logger *logging.Logger
}

// NewRelay constructs a Relay publishing onto streamKey via client.
func NewRelay(client StreamPublisher, streamKey string, logger *logging.Logger) *Relay {
	return &Relay{client: client, stream: streamKey, logger: logger}
}

// Run subscribes to bus and republishes every event until ctx is cancelled or
// the subscription is closed. Intended to run in its own lifetime.Spawn
// goroutine; publish failures are logged and skipped rather than fatal, since
// a relay outage must never block the in-process bus it mirrors.
func (r *Relay) Run(ctx context.Context, bus *Bus) error {
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		e, err := sub.Recv(ctx)
		switch {
		case err == ErrLagged:
			r.logger.Warnf("relay subscriber lagged, events dropped before reaching redis stream", nil)
			continue
		case err == ErrClosed:
			return nil
		case err != nil:
			return err
		}

		w, ok := toWire(e)
		if !ok {
			continue
		}
		if err := r.publish(ctx, w); err != nil {
			r.logger.WithError(err).Warnf("relay publish to redis stream failed", map[string]interface{}{"stream": r.stream})
		}
	}
}

func (r *Relay) publish(ctx context.Context, w wireEvent) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("eventbus: marshal relay event: %w", err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
}
