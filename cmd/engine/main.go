// Command engine is the trading-engine process entry point: it wires the
// Order Pool, Order State Machine, Balance Reservation Engine, Event Bus, and
// Cancellation & Lifetime Manager (spec.md §2) to the in-memory reference
// exchange facade, starts the control surface and metrics endpoint, and
// drives one demonstration strategy loop exercising the happy path (spec.md
// §8 S1) so the wiring is observable without a real exchange connection.
// Grounded on the teacher's cmd/*/main.go shape (config.Load -> Validate ->
// construct dependencies -> start HTTP -> signal.Notify -> graceful
// shutdown), consolidated from nine per-service binaries into one.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/exchange/engine/internal/audit"
	"github.com/exchange/engine/internal/balance"
	"github.com/exchange/engine/internal/config"
	"github.com/exchange/engine/internal/decimal"
	"github.com/exchange/engine/internal/eventbus"
	"github.com/exchange/engine/internal/exchangeiface"
	"github.com/exchange/engine/internal/fakeexchange"
	"github.com/exchange/engine/internal/fsm"
	"github.com/exchange/engine/internal/idgen"
	"github.com/exchange/engine/internal/lifetime"
	"github.com/exchange/engine/internal/logging"
	"github.com/exchange/engine/internal/metrics"
	"github.com/exchange/engine/internal/order"
	"github.com/exchange/engine/internal/pool"
	"github.com/exchange/engine/internal/ratelimit"
	"github.com/exchange/engine/internal/reservation"
	"github.com/exchange/engine/internal/control"
	"github.com/exchange/engine/internal/tracing"
	"github.com/exchange/engine/internal/txledger"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
)

const (
	demoAccount = "acct-demo"
	demoSymbol  = "ETHBTC"
	demoBase    = "ETH"
	demoQuote   = "BTC"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.ServiceName, os.Stdout)
	logger.Info("starting trading engine")

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.WithError(err).Error("failed to init tracing")
		os.Exit(1)
	}

	lm := lifetime.New(logger)
	lm.ListenForSignals()

	ids, err := idgen.New(1)
	if err != nil {
		logger.WithError(err).Error("failed to init id generator")
		os.Exit(1)
	}

	holder := balance.New()
	holder.UpdateBalances(demoAccount, map[string]*decimal.Decimal{
		demoQuote: decimal.MustNew("1.0"),
		demoBase:  decimal.Zero,
	})

	ledger := reservation.New(holder, ids)
	bus := eventbus.New(cfg.EventBusCapacity)
	orderPool := pool.New()
	machine := fsm.New(orderPool, ledger, bus, logger)

	metricsReg := metrics.New()

	// Postgres-backed audit trail and transaction ledger (SPEC_FULL.md §4.9,
	// §4.11) are only constructed when a DSN is configured: the demo binary
	// must still run without a database for local/offline use.
	var txStore *txledger.Store
	if cfg.DatabaseDSN != "" {
		db, err := sql.Open("postgres", cfg.DatabaseDSN)
		if err != nil {
			logger.WithError(err).Error("failed to open database connection")
			os.Exit(1)
		}
		auditLogger, err := audit.NewDBLogger(db, audit.WithErrorHandler(func(err error) {
			logger.WithError(err).Warn("audit log write failed")
		}))
		if err != nil {
			logger.WithError(err).Error("failed to start audit logger")
			os.Exit(1)
		}
		machine.SetAuditLogger(auditLogger)
		txStore = txledger.NewStore(db)

		lm.RegisterShutdownHook("audit-logger", func(ctx context.Context) error {
			auditLogger.Close()
			return nil
		})
		lm.RegisterShutdownHook("database", func(ctx context.Context) error {
			return db.Close()
		})
	}

	rateLimiter := ratelimit.New(ratelimit.Limits{
		RequestsPerMinute: cfg.DefaultRateLimit.RequestsPerMinute,
		Burst:             cfg.DefaultRateLimit.Burst,
	}, cfg.RequestTimeout)

	exchange := fakeexchange.New(exchangeiface.Binance, exchangeiface.Features{
		AllowedCreateEventSource: exchangeiface.SourceAll,
		AllowedFillEventSource:   exchangeiface.SourceWebSocket,
		AllowedCancelEventSource: exchangeiface.SourceAll,
	}, 50*time.Millisecond)
	rateLimiter.Configure(exchange.ID(), ratelimit.Limits{
		RequestsPerMinute: cfg.DefaultRateLimit.RequestsPerMinute,
		Burst:             cfg.DefaultRateLimit.Burst,
	})

	lm.RegisterShutdownHook("event-bus", func(ctx context.Context) error {
		bus.Close()
		return nil
	})

	if cfg.EventRelayEnabled {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		relay := eventbus.NewRelay(redisClient, cfg.EventRelayStream, logger)
		lm.Spawn("event-relay", func(ctx context.Context) {
			if err := relay.Run(ctx, bus); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("event relay stopped unexpectedly")
			}
		})
		lm.RegisterShutdownHook("event-relay-redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	// WS consumer: reconciles fills/cancellations delivered asynchronously by
	// the exchange, racing against the synchronous REST acks the strategy
	// loop below receives directly (spec.md §2 "two concurrent sources").
	lm.Spawn("ws-consumer", func(ctx context.Context) {
		wsEvents, err := exchange.SubscribeWS(ctx, []string{demoSymbol})
		if err != nil {
			logger.WithError(err).Error("failed to subscribe to exchange WS")
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-wsEvents:
				if !ok {
					return
				}
				handleWSEvent(machine, metricsReg, evt, exchange.Features())
			}
		}
	})

	// Demonstration strategy: reserve funds, submit one buy order, and let
	// the WS consumer above reconcile its fill (spec.md §8 S1).
	lm.Spawn("demo-strategy", func(ctx context.Context) {
		runDemoStrategy(ctx, logger, ledger, orderPool, machine, exchange, rateLimiter, ids, txStore)
	})

	controlSrv := &control.Server{
		Pool:     orderPool,
		Ledger:   ledger,
		Bus:      bus,
		Lifetime: lm,
		Logger:   logger,
		Token:    cfg.InternalToken,
		Reload: func(ctx context.Context) error {
			logger.Info("config reload requested (no-op: nothing reloadable in this demo binary)")
			return nil
		},
	}

	httpServer := &http.Server{Addr: cfg.ControlAddr, Handler: tracing.HTTPMiddleware(controlSrv.Handler())}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsReg.Handler()}

	lm.Spawn("control-http", func(ctx context.Context) {
		logger.Infof("control surface listening", map[string]interface{}{"addr": cfg.ControlAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("control surface stopped unexpectedly")
		}
	})
	lm.Spawn("metrics-http", func(ctx context.Context) {
		logger.Infof("metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics endpoint stopped unexpectedly")
		}
	})

	lm.RegisterShutdownHook("control-http", func(ctx context.Context) error {
		return httpServer.Shutdown(ctx)
	})
	lm.RegisterShutdownHook("metrics-http", func(ctx context.Context) error {
		return metricsServer.Shutdown(ctx)
	})
	lm.RegisterShutdownHook("tracing", func(ctx context.Context) error {
		return shutdownTracing(ctx)
	})

	<-lm.Wait()
	logger.Info("graceful shutdown complete")
	if lm.ActionAfterShutdown() == lifetime.ActionRestart {
		os.Exit(75) // EX_TEMPFAIL: supervisor should restart the process.
	}
	os.Exit(0)
}

func handleWSEvent(machine *fsm.Machine, metricsReg *metrics.Metrics, evt exchangeiface.WSEvent, features exchangeiface.Features) {
	switch evt.Kind {
	case exchangeiface.WSEventFill:
		machine.ProcessFill(evt.ExchangeOrderID, *evt.Fill, order.SourceWebSocket, features)
		metricsReg.IncOrderFilled()
	case exchangeiface.WSEventCancelSucceeded:
		_ = machine.ProcessCancelResponse(evt.ExchangeOrderID, order.SourceWebSocket, nil, features)
		metricsReg.IncOrderCanceled("ws_succeeded")
	case exchangeiface.WSEventCancelFailed:
		_ = machine.ProcessCancelResponse(evt.ExchangeOrderID, order.SourceWebSocket, evt.Err, features)
		metricsReg.IncOrderCanceled("ws_failed")
	case exchangeiface.WSEventCreateSucceeded:
		_ = machine.ProcessCreateResponse(context.Background(), evt.ClientOrderID, order.SourceWebSocket,
			&exchangeiface.CreateOrderResponse{ExchangeOrderID: evt.ExchangeOrderID, Source: order.SourceWebSocket}, nil,
			features)
	case exchangeiface.WSEventCreateFailed:
		_ = machine.ProcessCreateResponse(context.Background(), evt.ClientOrderID, order.SourceWebSocket, nil, evt.Err,
			features)
	}
}

func runDemoStrategy(
	ctx context.Context,
	logger *logging.Logger,
	ledger *reservation.Ledger,
	orderPool *pool.Pool,
	machine *fsm.Machine,
	exchange *fakeexchange.Exchange,
	rateLimiter *ratelimit.Manager,
	ids *idgen.Generator,
	txStore *txledger.Store,
) {
	price := decimal.MustNew("0.2")
	amount := decimal.MustNew("5")
	tick := decimal.MustNew("0.0001")

	params := reservation.Params{
		ConfigDescriptor: "demo-strategy/v1",
		AccountID:        demoAccount,
		Symbol:           demoSymbol,
		BaseCurrency:     demoBase,
		QuoteCurrency:    demoQuote,
		Side:             order.SideBuy,
		Price:            price,
		Amount:           amount,
		AmountTick:       tick,
	}

	resv, err := ledger.TryReserve(params)
	if err != nil {
		logger.WithError(err).Warn("demo strategy: reservation failed")
		return
	}

	clientOrderID := fmt.Sprintf("demo-%d", ids.NextID())
	o := order.New(clientOrderID, demoAccount, demoSymbol, order.SideBuy, order.TypeLimit, amount, price, tick)
	o.ReservationID = resv.ID

	if _, err := orderPool.AddInitial(o); err != nil {
		logger.WithError(err).Error("demo strategy: failed to insert order into pool")
		return
	}
	if err := ledger.ApprovePart(resv.ID, clientOrderID, amount); err != nil {
		logger.WithError(err).Warn("demo strategy: failed to approve reservation part")
	}

	if err := rateLimiter.Acquire(ctx, exchange.ID()); err != nil {
		logger.WithError(err).Warn("demo strategy: rate limiter denied submission")
		return
	}
	resp, submitErr := exchange.SubmitOrder(ctx, exchangeiface.CreateOrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        demoSymbol,
		Side:          order.SideBuy,
		Type:          order.TypeLimit,
		Amount:        amount,
		Price:         price,
	})

	_ = machine.ProcessCreateResponse(ctx, clientOrderID, order.SourceREST, resp, submitErr, exchange.Features())
	logger.Infof("demo strategy: order submitted", map[string]interface{}{
		"client_order_id": clientOrderID,
		"reservation_id":  resv.ID,
	})

	if txStore != nil {
		tx := txledger.New(clientOrderID)
		if err := txStore.Append(ctx, tx, "orders"); err != nil {
			logger.WithError(err).Warn("demo strategy: failed to record transaction ledger entry")
		}
	}
}
