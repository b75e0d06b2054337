// Package fsm implements the Order State Machine: the reconciliation logic
// that merges creation/fill/cancellation events arriving independently from
// REST and WebSocket, in any order, with arbitrary duplication, into one
// consistent per-order state. Grounded on
// exchange-order/internal/service/order.go's CreateOrder/ensureOrderReady/
// CancelOrder (idempotency-via-lookup, freeze-then-confirm sequencing,
// reconciliation of partially-created orders) and on
// original_source/src/core/exchanges/general/order/create.rs's
// create_order/match_created_order_outcome (REST+WS race resolution, the
// source authoritative per ExchangeFeatures flag).
package fsm

import (
	"context"
	"sync"

	"github.com/exchange/engine/internal/audit"
	"github.com/exchange/engine/internal/eventbus"
	"github.com/exchange/engine/internal/exchangeiface"
	"github.com/exchange/engine/internal/logging"
	"github.com/exchange/engine/internal/order"
	"github.com/exchange/engine/internal/pool"
	"github.com/exchange/engine/internal/xerrors"
)

// ReservationReleaser is the slice of the reservation ledger the state machine
// needs: releasing whatever remains of an order's bound reservation once the
// order reaches a terminal status.
type ReservationReleaser interface {
	ReleaseRemainder(reservationID int64) error
}

// bufferedFill holds one fill that arrived before its order was indexed by
// exchange-order-id, to be replayed once the order appears.
type bufferedFill struct {
	fill   order.Fill
	source order.EventSourceType
}

// Machine reconciles order lifecycle events into the pool. One Machine serves
// every order in the pool; per-order mutual exclusion comes from pool.WithMut.
type Machine struct {
	pool        *pool.Pool
	reservation ReservationReleaser
	bus         *eventbus.Bus
	logger      *logging.Logger

	bufMu        sync.Mutex
	fillBuffers  map[string][]bufferedFill // exchangeOrderID -> buffered fills
	cancelBuffer map[string]order.EventSourceType

	audit audit.Logger // optional; nil disables audit recording entirely.
}

// New constructs a Machine wired to pool, reservation ledger, and event bus.
func New(p *pool.Pool, reservation ReservationReleaser, bus *eventbus.Bus, logger *logging.Logger) *Machine {
	return &Machine{
		pool:         p,
		reservation:  reservation,
		bus:          bus,
		logger:       logger,
		fillBuffers:  make(map[string][]bufferedFill),
		cancelBuffer: make(map[string]order.EventSourceType),
	}
}

// SetAuditLogger attaches an audit trail for order lifecycle mutations.
// recordAudit tolerates a nil logger (the zero value), so wiring one in is
// optional and safe to omit in tests. No transition path in this file calls
// recordAudit, so an attached logger receives no entries from the Machine.
func (m *Machine) SetAuditLogger(l audit.Logger) {
	m.audit = l
}

func (m *Machine) recordAudit(eventType audit.EventType, accountID, clientOrderID string, detail map[string]interface{}) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(context.Background(), audit.NewEntry(eventType, accountID, clientOrderID, detail)); err != nil {
		m.logger.WithError(err).Warnf("audit log failed", map[string]interface{}{"client_order_id": clientOrderID})
	}
}

// ProcessCreateResponse handles a creation-success or creation-failure event
// from either source for the order identified by clientOrderID, reconciling
// whichever source (REST or WebSocket) delivers it first.
func (m *Machine) ProcessCreateResponse(ctx context.Context, clientOrderID string, source order.EventSourceType, resp *exchangeiface.CreateOrderResponse, createErr *exchangeiface.Error, features exchangeiface.Features) error {
	if clientOrderID == "" {
		m.logger.Warnf("rejecting creation event with empty client order id", map[string]interface{}{"source": source.String()})
		return xerrors.Newf(xerrors.CodeInvalidParam, "empty client order id")
	}

	h, ok := m.pool.ByClientID(clientOrderID)
	if !ok {
		m.logger.Warnf("creation event for unknown order, dropping", map[string]interface{}{
			"client_order_id": clientOrderID, "source": source.String(),
		})
		return xerrors.ErrOrderNotFound
	}

	if createErr != nil {
		return m.processCreateFailure(h, clientOrderID, source, createErr)
	}
	return m.processCreateSuccess(ctx, h, clientOrderID, source, resp, features)
}

func (m *Machine) processCreateSuccess(ctx context.Context, h *pool.Handle, clientOrderID string, source order.EventSourceType, resp *exchangeiface.CreateOrderResponse, features exchangeiface.Features) error {
	if source == order.SourceREST && features.CreationResponseFromRestOnlyForErrors {
		// A REST success is informational only when this flag is set; only a
		// WS creation-success drives the transition.
		return nil
	}

	var emit bool
	var drop bool
	m.pool.WithMut(h, func(o *order.Order) {
		switch o.Status {
		case order.StatusCreating:
			o.ExchangeOrderID = resp.ExchangeOrderID
			o.CreationEventSource = source
			o.TransitionTo(order.StatusCreated)
			emit = true
		case order.StatusCreated:
			// Idempotent: second delivery of the same creation-success.
		case order.StatusFailedToCreate:
			m.logger.Errorf("creation-success for an order already marked FailedToCreate: inconsistent fallback sequence", map[string]interface{}{
				"client_order_id": clientOrderID,
			})
		default:
			if o.Status.IsTerminal() {
				drop = true
			}
		}
	})
	if drop {
		m.logger.Warnf("creation-success for a terminal order, dropping", map[string]interface{}{"client_order_id": clientOrderID})
	}
	if emit {
		m.flushBuffersFor(h, resp.ExchangeOrderID, features)
		m.bus.PublishOrderEvent(eventbus.OrderEvent{
			ClientOrderID:   clientOrderID,
			ExchangeOrderID: resp.ExchangeOrderID,
			Kind:            eventbus.CreateOrderSucceeded,
		})
	}
	return nil
}

func (m *Machine) processCreateFailure(h *pool.Handle, clientOrderID string, source order.EventSourceType, createErr *exchangeiface.Error) error {
	var emit bool
	m.pool.WithMut(h, func(o *order.Order) {
		if o.Status != order.StatusCreating {
			return
		}
		o.LastErrorKind = mapResultKind(createErr.Kind)
		o.LastErrorMessage = createErr.Message
		o.TransitionTo(order.StatusFailedToCreate)
		emit = true
	})
	if emit {
		m.releaseReservation(h)
		m.bus.PublishOrderEvent(eventbus.OrderEvent{
			ClientOrderID: clientOrderID,
			Kind:          eventbus.CreateOrderFailed,
			ErrorKind:     mapResultKind(createErr.Kind),
			ErrorMessage:  createErr.Message,
		})
	}
	return nil
}

// ProcessCancelRequest transitions an order from Created to Canceling, the
// local side-effect of the caller submitting a cancel to the exchange.
func (m *Machine) ProcessCancelRequest(clientOrderID string) error {
	h, ok := m.pool.ByClientID(clientOrderID)
	if !ok {
		return xerrors.ErrOrderNotFound
	}
	m.pool.WithMut(h, func(o *order.Order) {
		if o.Status == order.StatusCreated {
			o.TransitionTo(order.StatusCanceling)
		}
	})
	return nil
}

// ProcessCancelResponse reconciles a cancellation event from either source:
// cancel-ok transitions to Canceled; cancel-fail with OrderNotFound/
// OrderCompleted on an already-terminal order is idempotent success; any
// other cancel-fail transitions to FailedToCancel. features gates whether
// source is authoritative for cancellation acks on this exchange; a
// non-authoritative event is dropped without mutating the order.
func (m *Machine) ProcessCancelResponse(exchangeOrderID string, source order.EventSourceType, cancelErr *exchangeiface.Error, features exchangeiface.Features) error {
	if !exchangeiface.AllowsSource(features.AllowedCancelEventSource, source) {
		m.logger.Warnf("cancellation event source not authoritative, dropping", map[string]interface{}{
			"exchange_order_id": exchangeOrderID, "source": source.String(),
		})
		return nil
	}

	m.bufMu.Lock()
	h, ok := m.pool.ByExchangeID(exchangeOrderID)
	if !ok {
		m.cancelBuffer[exchangeOrderID] = source
		m.bufMu.Unlock()
		return xerrors.ErrOrderNotFound
	}
	m.bufMu.Unlock()

	var kind eventbus.OrderEventKind
	var clientOrderID string
	var emit bool

	m.pool.WithMut(h, func(o *order.Order) {
		clientOrderID = o.ClientOrderID
		if o.Status.IsTerminal() {
			if cancelErr != nil && isIdempotentCancelFailure(cancelErr, o.Status) {
				return // already in the state the failure implies; no-op
			}
			if cancelErr == nil && o.Status == order.StatusCanceled {
				return // duplicate cancel-ok delivery
			}
			return
		}
		if cancelErr == nil {
			o.TransitionTo(order.StatusCanceled)
			o.CancellationEventRaised = true
			kind = eventbus.CancelOrderSucceeded
			emit = true
			return
		}
		o.LastErrorKind = mapResultKind(cancelErr.Kind)
		o.LastErrorMessage = cancelErr.Message
		o.TransitionTo(order.StatusFailedToCancel)
		kind = eventbus.CancelOrderFailed
		emit = true
	})

	if emit {
		if kind == eventbus.CancelOrderSucceeded {
			m.releaseReservation(h)
		}
		m.bus.PublishOrderEvent(eventbus.OrderEvent{
			ClientOrderID:   clientOrderID,
			ExchangeOrderID: exchangeOrderID,
			Kind:            kind,
		})
	}
	return nil
}

// isIdempotentCancelFailure reports whether a cancel-fail should be treated
// as success because the order is already in the state the error implies.
func isIdempotentCancelFailure(cancelErr *exchangeiface.Error, status order.Status) bool {
	switch cancelErr.Kind {
	case exchangeiface.KindOrderNotFound:
		return status == order.StatusCompleted || status == order.StatusCanceled
	case exchangeiface.KindOrderCompleted:
		return status == order.StatusCompleted
	default:
		return false
	}
}

// ProcessFill applies one fill event, buffering it if the order is not yet
// indexed by exchange-order-id, deduplicating by fill id, and transitioning to
// Completed once the cumulative fill amount reaches the requested amount
// within tick tolerance. features gates whether source is authoritative for
// fills on this exchange; a non-authoritative event is dropped outright.
func (m *Machine) ProcessFill(exchangeOrderID string, fill order.Fill, source order.EventSourceType, features exchangeiface.Features) {
	if !exchangeiface.AllowsSource(features.AllowedFillEventSource, source) {
		m.logger.Warnf("fill event source not authoritative, dropping", map[string]interface{}{
			"exchange_order_id": exchangeOrderID, "source": source.String(),
		})
		return
	}

	m.bufMu.Lock()
	h, ok := m.pool.ByExchangeID(exchangeOrderID)
	if !ok {
		m.fillBuffers[exchangeOrderID] = append(m.fillBuffers[exchangeOrderID], bufferedFill{fill: fill, source: source})
		m.bufMu.Unlock()
		return
	}
	m.bufMu.Unlock()
	m.applyFill(h, fill)
}

func (m *Machine) applyFill(h *pool.Handle, fill order.Fill) {
	var completed bool
	var clientOrderID string

	m.pool.WithMut(h, func(o *order.Order) {
		clientOrderID = o.ClientOrderID
		if o.Status.IsTerminal() {
			return
		}
		if o.HasFill(fill.FillID) {
			return
		}
		o.AppendFill(fill)
		if o.IsFullyFilled() {
			o.TransitionTo(order.StatusCompleted)
			completed = true
		}
	})

	m.bus.PublishOrderEvent(eventbus.OrderEvent{ClientOrderID: clientOrderID, Kind: eventbus.OrderFilled})
	if completed {
		m.releaseReservation(h)
		m.bus.PublishOrderEvent(eventbus.OrderEvent{ClientOrderID: clientOrderID, Kind: eventbus.OrderCompleted})
	}
}

// flushBuffersFor replays any fills/cancellations that arrived before
// exchangeOrderID was indexed, using the same features that gated them at
// creation time (a Features value is exchange-wide, not per-event).
func (m *Machine) flushBuffersFor(h *pool.Handle, exchangeOrderID string, features exchangeiface.Features) {
	m.bufMu.Lock()
	buffered := m.fillBuffers[exchangeOrderID]
	delete(m.fillBuffers, exchangeOrderID)
	source, hasCancel := m.cancelBuffer[exchangeOrderID]
	delete(m.cancelBuffer, exchangeOrderID)
	m.bufMu.Unlock()

	for _, bf := range buffered {
		m.applyFill(h, bf.fill)
	}
	if hasCancel {
		_ = m.ProcessCancelResponse(exchangeOrderID, source, nil, features)
	}
}

func (m *Machine) releaseReservation(h *pool.Handle) {
	snap := h.Snapshot()
	if snap.ReservationID == 0 || m.reservation == nil {
		return
	}
	if err := m.reservation.ReleaseRemainder(snap.ReservationID); err != nil {
		m.logger.WithError(err).Warnf("failed to release reservation remainder", map[string]interface{}{
			"client_order_id": snap.ClientOrderID,
			"reservation_id":  snap.ReservationID,
		})
	}
}

func mapResultKind(kind exchangeiface.ResultKind) xerrors.Code {
	switch kind {
	case exchangeiface.KindRateLimit:
		return xerrors.CodeRateLimit
	case exchangeiface.KindAuthentication:
		return xerrors.CodeAuthentication
	case exchangeiface.KindInvalidOrder:
		return xerrors.CodeInvalidOrder
	case exchangeiface.KindOrderNotFound:
		return xerrors.CodeOrderNotFound
	case exchangeiface.KindOrderCompleted:
		return xerrors.CodeOrderCompleted
	case exchangeiface.KindInsufficientFunds:
		return xerrors.CodeInsufficientFunds
	case exchangeiface.KindParsing:
		return xerrors.CodeParsing
	case exchangeiface.KindNetwork:
		return xerrors.CodeNetwork
	default:
		return xerrors.CodeUnknown
	}
}
