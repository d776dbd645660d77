package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"omc/internal/core"
	apperrors "omc/pkg/errors"
	"omc/pkg/retry"
	"omc/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// runWorkflow drives one order from its current status to Filled or a
// terminal state. It runs on the worker pool with its own deadline; the
// submitting request has already returned.
func (e *Engine) runWorkflow(orderID string) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), e.workflowTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "OrderWorkflow",
		trace.WithAttributes(attribute.String("order_id", orderID)),
	)
	defer span.End()

	for {
		var order *core.Order
		err := retry.Do(ctx, e.retryPolicy, isTransient, func() error {
			var err error
			order, err = e.store.GetOrder(ctx, orderID)
			return err
		})
		if err != nil {
			span.RecordError(err)
			e.failWorkflow(ctx, orderID, err)
			e.observeWorkflow(ctx, started, "error")
			return
		}

		switch order.Status {
		case core.StatusNew:
			_, err = e.transition(ctx, orderID, core.StatusValidating, "", logByEngine, nil)
		case core.StatusValidating:
			err = e.validateStep(ctx, order)
		case core.StatusValidated:
			_, err = e.transition(ctx, orderID, core.StatusExecuting, "", logByEngine, nil)
		case core.StatusExecuting:
			err = e.executeStep(ctx, order)
		case core.StatusFilled:
			e.scheduleSettlement(order)
			e.observeWorkflow(ctx, started, "filled")
			return
		default:
			// Rejected, Settled or Cancelled. Nothing left to drive.
			e.observeWorkflow(ctx, started, strings.ToLower(string(order.Status)))
			return
		}

		if err != nil {
			// Someone moved the order under us, a cancel usually. Re-read
			// and decide again from the fresh status.
			if errors.Is(err, apperrors.ErrInvalidState) {
				continue
			}
			span.RecordError(err)
			e.failWorkflow(ctx, orderID, err)
			e.observeWorkflow(ctx, started, "error")
			return
		}
	}
}

// validateStep runs the admission checks and moves the order to Validated
// or Rejected. Infrastructure failures bubble up instead of rejecting.
func (e *Engine) validateStep(ctx context.Context, order *core.Order) error {
	outcome, err := e.validator.Check(ctx, order)
	if err != nil {
		return err
	}
	if !outcome.Valid {
		e.logger.Info("Order failed validation", "order_id", order.OrderID, "reason", outcome.Reason)
		_, err = e.transition(ctx, order.OrderID, core.StatusRejected, outcome.Reason, logByEngine, nil)
		return err
	}
	_, err = e.transition(ctx, order.OrderID, core.StatusValidated, "", logByEngine, nil)
	return err
}

// executeStep fills the order: it records the trade and applies the fill to
// the investor's holding in the same transaction as the Filled transition.
// The holding lock serializes concurrent fills on the same position.
func (e *Engine) executeStep(ctx context.Context, order *core.Order) error {
	price, err := e.executionPrice(ctx, order)
	if err != nil {
		return err
	}

	unlock := e.holdingLocks.Lock(holdingKey(order.InvestorID, order.AssetID))
	defer unlock()

	filled, err := e.transition(ctx, order.OrderID, core.StatusFilled, "", logByEngine, func(tx core.ITx, o *core.Order) error {
		now := time.Now().UTC()
		trade := &core.Trade{
			TradeID:        uuid.NewString(),
			OrderID:        o.OrderID,
			InvestorID:     o.InvestorID,
			AssetID:        o.AssetID,
			Quantity:       o.Quantity,
			ExecutionPrice: price,
			Side:           o.Side,
			TradedAt:       now,
		}
		if err := tx.InsertTrade(trade); err != nil {
			return err
		}
		if err := applyFill(tx, o, price, now); err != nil {
			return err
		}
		o.ExecutedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	notional, _ := tradingutils.Notional(filled.Quantity, price).Float64()
	e.metrics.RecordTrade(ctx, string(filled.Side), notional)
	e.logger.Info("Order filled",
		"order_id", filled.OrderID,
		"side", filled.Side,
		"quantity", filled.Quantity,
		"execution_price", price,
	)
	return nil
}

// executionPrice resolves the price a fill executes at: the limit price if
// the order carries one, the asset's current market price otherwise.
func (e *Engine) executionPrice(ctx context.Context, order *core.Order) (decimal.Decimal, error) {
	if order.Price.Valid {
		return order.Price.Decimal, nil
	}
	asset, err := e.assets.GetAsset(ctx, order.AssetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("asset lookup failed: %w", err)
	}
	if !asset.CurrentPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no market price for asset %d", apperrors.ErrInvalidParameter, order.AssetID)
	}
	return asset.CurrentPrice, nil
}

func (e *Engine) scheduleSettlement(order *core.Order) {
	if e.scheduler == nil {
		e.logger.Warn("No settlement scheduler bound, order stays filled", "order_id", order.OrderID)
		return
	}
	if order.ExecutedAt == nil {
		// Should not happen: the fill transaction always stamps ExecutedAt.
		e.logger.Error("Filled order missing execution time", "order_id", order.OrderID)
		return
	}
	e.scheduler.Schedule(order.OrderID, order.ExecutedAt.Add(e.settlementDelay))
}

// failWorkflow rejects the order after an unrecoverable workflow error. The
// rejection runs on a fresh context so it still lands when the workflow
// deadline itself was the failure.
func (e *Engine) failWorkflow(ctx context.Context, orderID string, cause error) {
	reason := rejectionReason(cause)
	e.logger.Error("Order workflow failed", "order_id", orderID, "reason", reason, "error", cause)

	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.transition(rctx, orderID, core.StatusRejected, reason, logByEngine, nil); err != nil {
		e.logger.Error("Failed to reject order, leaving for restart recovery", "order_id", orderID, "error", err)
	}

	if e.alerter != nil {
		e.alerter.Alert(rctx, core.AlertError, "Order rejected by system error", reason,
			map[string]string{"order_id": orderID})
	}
}

// rejectionReason maps a workflow error to the reason recorded on the
// Rejected transition.
func rejectionReason(err error) string {
	var insufficient *InsufficientHoldingsError
	if errors.As(err, &insufficient) {
		return insufficient.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System error: timeout"
	}
	return fmt.Sprintf("System error: %s", err.Error())
}

func (e *Engine) observeWorkflow(ctx context.Context, started time.Time, outcome string) {
	e.metrics.RecordWorkflowDuration(ctx, float64(time.Since(started).Microseconds())/1000.0, outcome)
}

func holdingKey(investorID, assetID int64) string {
	return fmt.Sprintf("%d:%d", investorID, assetID)
}
