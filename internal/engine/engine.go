// Package engine owns the order lifecycle: admission with idempotency,
// validation, trade execution against holdings, and every state transition
// in between. It is the sole writer of orders, trades, holdings and state
// logs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omc/internal/config"
	"omc/internal/core"
	"omc/pkg/concurrency"
	apperrors "omc/pkg/errors"
	"omc/pkg/retry"
	"omc/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Actors recorded in the state log.
const (
	logByEngine    = "engine"
	logByScheduler = "scheduler"
	logByClient    = "client"
)

const reasonOrderReceived = "Order received"

// Engine drives orders through the state machine.
type Engine struct {
	store     core.IStore
	investors core.IInvestorProvider
	assets    core.IAssetProvider
	validator *Validator
	bus       core.IEventBus
	scheduler core.ISettlementScheduler
	alerter   core.IAlerter
	logger    core.ILogger

	// Concurrency
	pool         *concurrency.WorkerPool
	orderLocks   *concurrency.KeyedMutex
	holdingLocks *concurrency.KeyedMutex

	// Workflow tuning
	retryPolicy     retry.RetryPolicy
	workflowTimeout time.Duration
	settlementDelay time.Duration

	// OTel
	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

func NewEngine(
	store core.IStore,
	investors core.IInvestorProvider,
	assets core.IAssetProvider,
	bus core.IEventBus,
	pool *concurrency.WorkerPool,
	cfg config.EngineConfig,
	settlementDelay time.Duration,
	logger core.ILogger,
) *Engine {
	e := &Engine{
		store:           store,
		investors:       investors,
		assets:          assets,
		validator:       NewValidator(investors, assets, store, logger),
		bus:             bus,
		pool:            pool,
		orderLocks:      concurrency.NewKeyedMutex(),
		holdingLocks:    concurrency.NewKeyedMutex(),
		workflowTimeout: time.Duration(cfg.WorkflowTimeoutSeconds) * time.Second,
		settlementDelay: settlementDelay,
		tracer:          telemetry.GetTracer("order-engine"),
		metrics:         telemetry.GetGlobalMetrics(),
		logger:          logger.WithField("component", "order_engine"),
	}
	e.retryPolicy = retry.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			e.metrics.RecordWorkflowRetry(context.Background())
			e.logger.Warn("Retrying after transient storage failure", "attempt", attempt, "error", err)
		},
	}
	return e
}

// SetScheduler binds the settlement scheduler. The scheduler needs the
// engine to settle, so the two are wired after construction.
func (e *Engine) SetScheduler(s core.ISettlementScheduler) {
	e.scheduler = s
}

// SetAlerter binds an optional operator notification sink.
func (e *Engine) SetAlerter(a core.IAlerter) {
	e.alerter = a
}

// Start resubmits workflows for orders that were in flight when the process
// last stopped.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting order engine")

	orders, err := e.store.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan in-flight orders: %w", err)
	}
	for _, order := range orders {
		e.logger.Info("Resuming order workflow", "order_id", order.OrderID, "status", order.Status)
		e.enqueueWorkflow(order.OrderID)
	}
	return nil
}

func (e *Engine) Stop() error {
	e.logger.Info("Stopping order engine")
	return nil
}

// CreateOrder admits a submission. It returns once the New order is durably
// committed; the rest of the lifecycle runs on the worker pool. A reused
// idempotency key returns the prior order without re-processing.
func (e *Engine) CreateOrder(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", apperrors.ErrInvalidParameter)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", apperrors.ErrInvalidParameter)
	}

	ctx, span := e.tracer.Start(ctx, "CreateOrder",
		trace.WithAttributes(
			attribute.Int64("investor_id", req.InvestorID),
			attribute.Int64("asset_id", req.AssetID),
			attribute.String("side", string(req.Side)),
		),
	)
	defer span.End()

	var result *core.Order
	var created bool
	err := retry.Do(ctx, e.retryPolicy, isRetryableCreate(req.IdempotencyKey), func() error {
		order, fresh, err := e.createOnce(ctx, req)
		if err != nil {
			return err
		}
		result, created = order, fresh
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !created {
		e.metrics.RecordIdempotentHit(ctx)
		e.logger.Info("Submission resolved to prior order", "idempotency_key", req.IdempotencyKey, "order_id", result.OrderID)
		return result, nil
	}

	e.metrics.RecordOrderCreated(ctx, string(req.Side))
	e.logger.Info("Order created", "order_id", result.OrderID, "investor_id", result.InvestorID, "side", result.Side)
	e.enqueueWorkflow(result.OrderID)
	return result, nil
}

// createOnce is one attempt at the admission transaction: reserve the
// idempotency key, persist the New order with its creation log, commit,
// publish. A duplicate key resolves to the prior order instead.
func (e *Engine) createOnce(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, bool, error) {
	now := time.Now().UTC()
	order := &core.Order{
		OrderID:        uuid.NewString(),
		InvestorID:     req.InvestorID,
		AssetID:        req.AssetID,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Status:         core.StatusNew,
		IdempotencyKey: req.IdempotencyKey,
		OrderedAt:      now,
	}

	// Holding the order lock across commit and publish keeps the creation
	// event ahead of any transition event for the same order.
	unlock := e.orderLocks.Lock(order.OrderID)
	defer unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	if req.IdempotencyKey != "" {
		existingID, fresh, err := tx.ReserveIdempotencyKey(req.IdempotencyKey, order.OrderID)
		if err != nil {
			return nil, false, err
		}
		if !fresh {
			prior, err := tx.GetOrder(existingID)
			if err != nil {
				return nil, false, err
			}
			e.warnOnDivergence(req, prior)
			return prior, false, nil
		}
	}

	if err := tx.PutOrder(order); err != nil {
		return nil, false, err
	}
	if err := tx.AppendStateLog(&core.OrderStateLog{
		OrderID:  order.OrderID,
		ToStatus: core.StatusNew,
		Reason:   reasonOrderReceived,
		LoggedBy: logByEngine,
		LoggedAt: now,
	}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	e.publish(order, "", core.StatusNew)
	return order, true, nil
}

// CancelOrder cancels an order still in a cancellable state. It takes the
// same per-order lock as the workflow, so a cancel and a worker never
// interleave inside a transition.
func (e *Engine) CancelOrder(ctx context.Context, orderID, reason string) (*core.Order, error) {
	if reason == "" {
		reason = "Cancelled by client"
	}
	order, err := e.transition(ctx, orderID, core.StatusCancelled, reason, logByClient, nil)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Order cancelled", "order_id", orderID, "reason", reason)
	return order, nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

func (e *Engine) ListOrdersForInvestor(ctx context.Context, investorID int64, from *time.Time) ([]*core.Order, error) {
	return e.store.ListOrdersForInvestor(ctx, investorID, from)
}

func (e *Engine) ListStateLogs(ctx context.Context, orderID string) ([]*core.OrderStateLog, error) {
	return e.store.ListStateLogs(ctx, orderID)
}

// Settle transitions a Filled order to Settled. An order no longer in
// Filled is left untouched; that is a silent no-op by contract.
func (e *Engine) Settle(ctx context.Context, orderID string) error {
	_, err := e.transition(ctx, orderID, core.StatusSettled, "", logByScheduler, func(tx core.ITx, order *core.Order) error {
		now := time.Now().UTC()
		order.SettledAt = &now
		return nil
	})
	if errors.Is(err, apperrors.ErrInvalidState) {
		e.logger.Debug("Settlement skipped, order no longer filled", "order_id", orderID)
		return nil
	}
	if err != nil {
		return err
	}
	e.metrics.RecordSettlement(ctx)
	e.logger.Info("Order settled", "order_id", orderID)
	return nil
}

// transition moves the order to the target status in one transaction: the
// legality check, the optional extra mutation, the order update and the
// state log all commit together. The event publishes only after commit.
func (e *Engine) transition(ctx context.Context, orderID string, to core.OrderStatus, reason, loggedBy string, mutate func(tx core.ITx, order *core.Order) error) (*core.Order, error) {
	unlock := e.orderLocks.Lock(orderID)
	defer unlock()

	var result *core.Order
	err := retry.Do(ctx, e.retryPolicy, isTransient, func() error {
		tx, err := e.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		order, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if !core.CanTransition(order.Status, to) {
			return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidState, order.Status, to)
		}

		from := order.Status
		order.Status = to
		if mutate != nil {
			if err := mutate(tx, order); err != nil {
				return err
			}
		}
		if err := tx.PutOrder(order); err != nil {
			return err
		}
		if err := tx.AppendStateLog(&core.OrderStateLog{
			OrderID:    orderID,
			FromStatus: from,
			ToStatus:   to,
			Reason:     reason,
			LoggedBy:   loggedBy,
			LoggedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		e.metrics.RecordTransition(ctx, string(to))
		e.publish(order, from, to)
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) publish(order *core.Order, from, to core.OrderStatus) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(&core.OrderEvent{
		OrderID:        order.OrderID,
		InvestorID:     order.InvestorID,
		PreviousStatus: from,
		NewStatus:      to,
		Order:          order.Clone(),
		OccurredAt:     time.Now().UTC(),
	})
}

func (e *Engine) enqueueWorkflow(orderID string) {
	if err := e.pool.Submit(func() { e.runWorkflow(orderID) }); err != nil {
		e.logger.Error("Failed to enqueue workflow, order waits for restart recovery", "order_id", orderID, "error", err)
	}
}

func (e *Engine) warnOnDivergence(req *core.CreateOrderRequest, prior *core.Order) {
	if prior.InvestorID == req.InvestorID &&
		prior.AssetID == req.AssetID &&
		prior.Side == req.Side &&
		prior.Quantity.Equal(req.Quantity) &&
		prior.Price.Valid == req.Price.Valid &&
		(!prior.Price.Valid || prior.Price.Decimal.Equal(req.Price.Decimal)) {
		return
	}
	e.logger.Warn("Idempotency key reused with divergent payload, returning prior order",
		"idempotency_key", req.IdempotencyKey, "order_id", prior.OrderID)
}

func isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrTransient)
}

// isRetryableCreate retries transient failures and, for keyed submissions,
// unique-constraint conflicts: a racing duplicate loses the insert, and the
// retry resolves it to the winner's order.
func isRetryableCreate(key string) retry.IsTransientFunc {
	return func(err error) bool {
		if errors.Is(err, apperrors.ErrTransient) {
			return true
		}
		return key != "" && errors.Is(err, apperrors.ErrConflict)
	}
}
