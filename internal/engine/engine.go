// Package engine reconciles validated signals against the live account and routes the resulting orders
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/pricing"
	"signal_trader/internal/signal"
	"signal_trader/pkg/concurrency"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultOrderBookDepth is how many levels per side are fetched to price limit orders
const DefaultOrderBookDepth = 100

// Engine executes one signal at a time per instrument. It holds no account state between calls,
// and callers must not run two signals for the same instrument concurrently.
type Engine struct {
	provider core.ISnapshotProvider
	gateway  core.IOrderGateway
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	tracer   trace.Tracer

	bookDepth int
	pool      *concurrency.WorkerPool
	ownsPool  bool
}

// Option customizes an Engine
type Option func(*Engine)

// WithOrderBookDepth sets the depth requested when pricing limit orders
func WithOrderBookDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.bookDepth = depth
		}
	}
}

// WithDCAPool submits ladder rungs on pool. The caller keeps ownership of it.
func WithDCAPool(pool *concurrency.WorkerPool) Option {
	return func(e *Engine) {
		e.pool = pool
	}
}

// WithMetrics records into m instead of the global instruments
func WithMetrics(m *telemetry.MetricsHolder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine reading state from provider and mutating the account through gateway
func NewEngine(provider core.ISnapshotProvider, gateway core.IOrderGateway, logger core.ILogger, opts ...Option) *Engine {
	e := &Engine{
		provider:  provider,
		gateway:   gateway,
		logger:    logger.WithField("component", "reconciliation_engine"),
		tracer:    telemetry.GetTracer("signal_trader/engine"),
		bookDepth: DefaultOrderBookDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = telemetry.GetGlobalMetrics()
	}
	if e.pool == nil {
		e.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "dca_ladder", MaxWorkers: 8}, logger)
		e.ownsPool = true
	}
	return e
}

// Close releases the DCA pool if the engine created it
func (e *Engine) Close() {
	if e.ownsPool {
		e.pool.Stop()
	}
}

// HandleSignal reconciles intent with the account and returns the post-action status of its instrument.
// A red button intent flattens the whole account and reports every instrument.
func (e *Engine) HandleSignal(ctx context.Context, intent *signal.SignalIntent) (*core.InstrumentStatusReport, error) {
	if intent == nil {
		return nil, fmt.Errorf("%w: no signal intent", apperrors.ErrValidation)
	}

	ctx, span := e.tracer.Start(ctx, "engine.HandleSignal", trace.WithAttributes(
		attribute.String("inst_id", intent.InstID),
		attribute.String("side", string(intent.Side)),
		attribute.Bool("red_button", intent.RedButton),
	))
	defer span.End()

	var (
		report *core.InstrumentStatusReport
		err    error
	)
	if intent.RedButton {
		report, err = e.flattenAccount(ctx)
	} else {
		report, err = e.reconcile(ctx, intent)
	}
	return e.finish(ctx, span, report, err)
}

// HandleMaintenance is the red button across all instruments
func (e *Engine) HandleMaintenance(ctx context.Context) (*core.InstrumentStatusReport, error) {
	ctx, span := e.tracer.Start(ctx, "engine.HandleMaintenance")
	defer span.End()

	report, err := e.flattenAccount(ctx)
	return e.finish(ctx, span, report, err)
}

// Status reports the instrument without changing anything
func (e *Engine) Status(ctx context.Context, instID string) (*core.InstrumentStatusReport, error) {
	return BuildReport(ctx, e.provider, instID)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, report *core.InstrumentStatusReport, err error) (*core.InstrumentStatusReport, error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordSignal(ctx, "failed")
		return nil, err
	}
	e.metrics.RecordSignal(ctx, "ok")
	return report, nil
}

type instrumentState struct {
	position *core.Position
	orders   []core.OrderRecord
	algos    []core.AlgoOrderRecord
}

func (e *Engine) fetchState(ctx context.Context, instID string) (*instrumentState, error) {
	state := &instrumentState{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.provider.GetPosition(gctx, instID)
		if err != nil {
			return &apperrors.MarketDataError{What: "position", InstID: instID, Err: err}
		}
		state.position = p
		return nil
	})
	g.Go(func() error {
		orders, err := e.provider.ListOrders(gctx, instID)
		if err != nil {
			return &apperrors.MarketDataError{What: "orders", InstID: instID, Err: err}
		}
		state.orders = orders
		return nil
	})
	g.Go(func() error {
		algos, err := e.provider.ListAlgoOrders(gctx, instID)
		if err != nil {
			return &apperrors.MarketDataError{What: "algo orders", InstID: instID, Err: err}
		}
		state.algos = algos
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

func (e *Engine) reconcile(ctx context.Context, intent *signal.SignalIntent) (*core.InstrumentStatusReport, error) {
	instID := intent.InstID
	log := e.logger.WithFields(map[string]interface{}{
		"instrument":      instID,
		"client_order_id": intent.ClientOrderID,
	})

	if intent.ClearPriorToNewOrder {
		state, err := e.fetchState(ctx, instID)
		if err != nil {
			return nil, err
		}
		actions := clearActions(instID, state.position, state.orders, state.algos)
		log.Info("Clearing instrument before new order", "actions", len(actions))
		e.runActions(ctx, log, actions)
	}

	if intent.Leverage > 0 && (intent.HasPrincipal() || len(intent.DCA) > 0) {
		err := e.timed(ctx, "set_leverage", func() error {
			return e.gateway.SetLeverage(ctx, instID, intent.Leverage)
		})
		if err != nil {
			return nil, &GatewayRejectedError{Op: "set_leverage", InstID: instID, Err: err}
		}
		log.Debug("Leverage set", "leverage", intent.Leverage)
	}

	state, err := e.fetchState(ctx, instID)
	if err != nil {
		return nil, err
	}
	plan := BuildPlan(intent, state.position, state.orders, state.algos)
	log.Info("Reconciliation plan",
		"scenario", plan.Scenario,
		"dominant_side", plan.DominantSide,
		"aggregate", plan.Aggregate,
		"actions", len(plan.Actions),
		"place_principal", plan.PlacePrincipal,
		"attach_conditionals", plan.AttachConditionals)
	e.runActions(ctx, log, plan.Actions)

	if plan.PlacePrincipal {
		if plan.ClosesPosition() {
			if err := e.ensureFlat(ctx, instID); err != nil {
				return nil, err
			}
		}
		reference, err := e.placePrincipal(ctx, log, intent, plan)
		if err != nil {
			return nil, err
		}
		if plan.AttachConditionals && intent.Trailing != nil {
			e.placeTrailingStop(ctx, log, intent, reference)
		}
	}

	e.placeLadder(ctx, log, intent)

	return BuildReport(ctx, e.provider, instID)
}

// ensureFlat refuses to place against a position that a flip failed to close
func (e *Engine) ensureFlat(ctx context.Context, instID string) error {
	p, err := e.provider.GetPosition(ctx, instID)
	if err != nil {
		return &apperrors.MarketDataError{What: "position", InstID: instID, Err: err}
	}
	if !p.IsFlat() {
		return &GatewayRejectedError{
			Op:     string(ActionClosePosition),
			InstID: instID,
			Err:    fmt.Errorf("position still open with size %s", p.Size),
		}
	}
	return nil
}

// placePrincipal submits the directional order and returns the reference price it was priced from
func (e *Engine) placePrincipal(ctx context.Context, log core.ILogger, intent *signal.SignalIntent, plan *ReconciliationPlan) (decimal.Decimal, error) {
	instID := intent.InstID
	ticker, err := e.provider.GetTicker(ctx, instID)
	if err != nil {
		return decimal.Zero, &apperrors.MarketDataError{What: "ticker", InstID: instID, Err: err}
	}
	reference := pricing.ReferencePrice(intent.Side, ticker)
	if !reference.IsPositive() {
		return decimal.Zero, &apperrors.MarketDataError{What: "reference price", InstID: instID}
	}

	req := &core.PlaceOrderRequest{
		InstID:        instID,
		Side:          intent.Side,
		OrderType:     intent.OrderType,
		Size:          intent.Contracts,
		ClientOrderID: intent.ClientOrderID,
	}
	if !intent.OrderType.IsMarket() {
		book, err := e.provider.GetOrderBook(ctx, instID, e.bookDepth)
		if err != nil {
			return decimal.Zero, &apperrors.MarketDataError{What: "order book", InstID: instID, Err: err}
		}
		if book == nil {
			return decimal.Zero, &apperrors.MarketDataError{What: "order book", InstID: instID}
		}
		price, err := pricing.ResolveLimitPrice(book, intent.Contracts, intent.Side, reference, intent.MaxPriceOffset)
		if err != nil {
			return decimal.Zero, err
		}
		req.Price = price
	}
	if plan.AttachConditionals {
		req.Attached = attachedAlgo(signal.TPSLClientOrderID(intent.ClientOrderID), intent.Side, reference, intent.TakeProfit, intent.StopLoss)
	}

	var ack *core.OrderAck
	err = e.timed(ctx, "place_order", func() error {
		var perr error
		ack, perr = e.gateway.PlaceOrder(ctx, req)
		return perr
	})
	if err != nil {
		log.Error("Principal order rejected, cancelling all orders for instrument", "error", err)
		e.cancelAll(ctx, log, instID)
		return decimal.Zero, &GatewayRejectedError{Op: "place_order", InstID: instID, Err: err}
	}

	e.metrics.RecordOrderPlaced(ctx, "principal")
	log.Info("Principal order placed",
		"order_id", ack.OrderID,
		"side", req.Side,
		"type", req.OrderType,
		"size", req.Size,
		"price", req.Price,
		"tp_sl", !req.Attached.IsEmpty())
	return reference, nil
}

// placeTrailingStop protects the principal with a reduce-only trailing stop on the opposite side
func (e *Engine) placeTrailingStop(ctx context.Context, log core.ILogger, intent *signal.SignalIntent, reference decimal.Decimal) {
	req := &core.AlgoOrderRequest{
		InstID:        intent.InstID,
		Side:          intent.Side.Opposite(),
		OrderType:     core.AlgoOrderTrailingStop,
		Size:          intent.Contracts,
		CallbackRatio: decimal.NewNullDecimal(intent.Trailing.CallbackRatio),
		ActivePrice:   decimal.NewNullDecimal(pricing.TrailingActivation(intent.Side, reference, intent.Trailing.ActivationOffset)),
		ReduceOnly:    true,
		CancelOnClose: true,
		ClientOrderID: signal.TrailingClientOrderID(intent.ClientOrderID),
	}
	err := e.timed(ctx, "place_algo_order", func() error {
		_, perr := e.gateway.PlaceAlgoOrder(ctx, req)
		return perr
	})
	if err != nil {
		log.Error("Trailing stop rejected", "error", err, "active_price", req.ActivePrice.Decimal)
		return
	}
	e.metrics.RecordOrderPlaced(ctx, "trailing")
	log.Info("Trailing stop placed",
		"active_price", req.ActivePrice.Decimal,
		"callback_ratio", req.CallbackRatio.Decimal)
}

// placeLadder submits every sized rung concurrently. A failed rung does not affect the others.
func (e *Engine) placeLadder(ctx context.Context, log core.ILogger, intent *signal.SignalIntent) {
	ladder := BuildLadder(intent.InstID, intent.DCA)
	if skipped := len(intent.DCA) - len(ladder); skipped > 0 {
		log.Debug("Skipping DCA rungs without a positive size", "skipped", skipped)
	}
	if len(ladder) == 0 {
		return
	}

	var placed atomic.Int64
	tasks := make([]func(), 0, len(ladder))
	for _, order := range ladder {
		tasks = append(tasks, func() {
			req := order.Request
			err := e.timed(ctx, "place_algo_order", func() error {
				_, perr := e.gateway.PlaceAlgoOrder(ctx, &req)
				return perr
			})
			if err != nil {
				log.Error("DCA rung rejected", "rung", order.Index, "trigger_price", req.TriggerPrice.Decimal, "error", err)
				return
			}
			placed.Add(1)
			e.metrics.RecordOrderPlaced(ctx, "dca")
		})
	}
	e.pool.RunAll(tasks)
	log.Info("DCA ladder submitted", "placed", placed.Load(), "rungs", len(ladder))
}

// flattenAccount closes every position and cancels every order and algo order on the account
func (e *Engine) flattenAccount(ctx context.Context) (*core.InstrumentStatusReport, error) {
	var (
		positions []core.Position
		orders    []core.OrderRecord
		algos     []core.AlgoOrderRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if positions, err = e.provider.ListPositions(gctx, ""); err != nil {
			return &apperrors.MarketDataError{What: "positions", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if orders, err = e.provider.ListOrders(gctx, ""); err != nil {
			return &apperrors.MarketDataError{What: "orders", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if algos, err = e.provider.ListAlgoOrders(gctx, ""); err != nil {
			return &apperrors.MarketDataError{What: "algo orders", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log := e.logger.WithField("scenario", "red_button")
	log.Warn("Flattening account",
		"positions", len(positions),
		"orders", len(orders),
		"algo_orders", len(algos))
	e.runActions(ctx, log, accountActions(positions, orders, algos))

	return BuildReport(ctx, e.provider, "")
}

// cancelAll is the defensive cleanup after a rejected principal order. It survives caller cancellation.
func (e *Engine) cancelAll(ctx context.Context, log core.ILogger, instID string) {
	ctx = context.WithoutCancel(ctx)
	orders, err := e.provider.ListOrders(ctx, instID)
	if err != nil {
		log.Error("Cannot list orders for defensive cancel", "error", err)
		e.metrics.RecordCleanupFailure(ctx, string(ActionCancelOrders))
	}
	algos, err := e.provider.ListAlgoOrders(ctx, instID)
	if err != nil {
		log.Error("Cannot list algo orders for defensive cancel", "error", err)
		e.metrics.RecordCleanupFailure(ctx, string(ActionCancelAlgoOrders))
	}
	e.runActions(ctx, log, cancelActions(instID, orders, algos, core.SideNone))
}

// runActions executes cleanup steps in order. Failures are logged and counted, never returned.
func (e *Engine) runActions(ctx context.Context, log core.ILogger, actions []Action) {
	for _, action := range actions {
		if err := e.execute(ctx, action); err != nil {
			log.Warn("Cleanup action failed",
				"action", action.Kind,
				"inst_id", action.InstID,
				"error", err)
			e.metrics.RecordCleanupFailure(ctx, string(action.Kind))
		}
	}
}

func (e *Engine) execute(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionClosePosition:
		return e.timed(ctx, string(action.Kind), func() error {
			return e.gateway.ClosePosition(ctx, action.InstID, action.Side)
		})
	case ActionCancelOrders, ActionCancelAlgoOrders:
		var results []core.ItemResult
		err := e.timed(ctx, string(action.Kind), func() error {
			var cerr error
			if action.Kind == ActionCancelOrders {
				results, cerr = e.gateway.CancelOrders(ctx, action.Targets)
			} else {
				results, cerr = e.gateway.CancelAlgoOrders(ctx, action.Targets)
			}
			return cerr
		})
		if err != nil {
			return err
		}
		return failedItems(results)
	default:
		return fmt.Errorf("unknown action %q", action.Kind)
	}
}

func failedItems(results []core.ItemResult) error {
	var failed []string
	for _, r := range results {
		if !r.Success {
			failed = append(failed, fmt.Sprintf("%s (%s %s)", r.ID, r.Code, r.Message))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d items failed: %s", len(failed), len(results), strings.Join(failed, ", "))
}

func (e *Engine) timed(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	e.metrics.RecordGatewayLatency(ctx, op, float64(time.Since(start).Microseconds())/1000)
	return err
}
