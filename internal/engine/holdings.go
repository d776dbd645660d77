package engine

import (
	"errors"
	"fmt"
	"time"

	"omc/internal/core"
	apperrors "omc/pkg/errors"
	"omc/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

func insufficientHoldingsReason(available, requested decimal.Decimal) string {
	return fmt.Sprintf("Insufficient holdings. Available: %s, Requested: %s", available, requested)
}

// InsufficientHoldingsError is returned when a sell exceeds the available
// position. Its message doubles as the client-visible rejection reason.
type InsufficientHoldingsError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientHoldingsError) Error() string {
	return insufficientHoldingsReason(e.Available, e.Requested)
}

func (e *InsufficientHoldingsError) Unwrap() error {
	return apperrors.ErrInsufficientHoldings
}

// applyFill records a filled order against the investor's position, inside
// the execution transaction. Buys blend the weighted-average cost; sells
// re-check sufficiency, decrement, and delete the row at zero.
func applyFill(tx core.ITx, order *core.Order, executionPrice decimal.Decimal, now time.Time) error {
	holding, err := tx.GetHolding(order.InvestorID, order.AssetID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		holding = nil
	}

	switch order.Side {
	case core.SideBuy:
		if holding == nil {
			holding = &core.Holding{
				InvestorID:  order.InvestorID,
				AssetID:     order.AssetID,
				Quantity:    order.Quantity,
				AverageCost: executionPrice,
			}
		} else {
			// Blend before mutating quantity; the average weighs the old
			// position against the new fill.
			holding.AverageCost = tradingutils.WeightedAverageCost(
				holding.Quantity, holding.AverageCost, order.Quantity, executionPrice)
			holding.Quantity = holding.Quantity.Add(order.Quantity)
		}
		holding.UpdatedAt = now
		return tx.PutHolding(holding)

	case core.SideSell:
		available := decimal.Zero
		if holding != nil {
			available = holding.Quantity
		}
		if available.LessThan(order.Quantity) {
			return &InsufficientHoldingsError{Available: available, Requested: order.Quantity}
		}
		remaining := available.Sub(order.Quantity)
		if remaining.IsZero() {
			return tx.DeleteHolding(order.InvestorID, order.AssetID)
		}
		holding.Quantity = remaining
		holding.UpdatedAt = now
		return tx.PutHolding(holding)

	default:
		return fmt.Errorf("%w: unknown side %q", apperrors.ErrInvalidParameter, order.Side)
	}
}
