package engine

import (
	"context"
	"errors"
	"fmt"

	"omc/internal/core"
	apperrors "omc/pkg/errors"

	"github.com/shopspring/decimal"
)

// Rejection reasons. These strings are client-visible and reach the state
// log verbatim.
const (
	reasonInvestorNotFound   = "Investor not found"
	reasonAssetUnavailable   = "Asset is not available for trading"
	reasonInvalidQuantity    = "Invalid order quantity"
	reasonInvalidPrice       = "Invalid order price"
	reasonInvalidMarketPrice = "Invalid market price for asset"
)

// Outcome is the result of validation: valid, or a rejection reason.
type Outcome struct {
	Valid  bool
	Reason string
}

func invalid(reason string) Outcome {
	return Outcome{Reason: reason}
}

// HoldingReader is the slice of the store the validator reads.
type HoldingReader interface {
	GetHolding(ctx context.Context, investorID, assetID int64) (*core.Holding, error)
}

// Validator applies the admission checks to an order. Checks run in a fixed
// order and the first failure wins; the holdings check here is advisory, the
// authoritative re-check happens inside the execution transaction.
type Validator struct {
	investors core.IInvestorProvider
	assets    core.IAssetProvider
	holdings  HoldingReader
	logger    core.ILogger
}

func NewValidator(investors core.IInvestorProvider, assets core.IAssetProvider, holdings HoldingReader, logger core.ILogger) *Validator {
	return &Validator{
		investors: investors,
		assets:    assets,
		holdings:  holdings,
		logger:    logger.WithField("component", "validator"),
	}
}

// Check validates the order. A returned error is an infrastructure failure;
// business rejections come back as an Outcome with a reason.
func (v *Validator) Check(ctx context.Context, order *core.Order) (Outcome, error) {
	// 1. Investor exists and the account is active.
	investor, err := v.investors.GetInvestor(ctx, order.InvestorID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return invalid(reasonInvestorNotFound), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("investor lookup failed: %w", err)
	}
	if investor.AccountStatus != core.AccountActive {
		return invalid(fmt.Sprintf("Account is %s", investor.AccountStatus)), nil
	}

	// 2. Asset exists and is tradeable.
	asset, err := v.assets.GetAsset(ctx, order.AssetID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return invalid(reasonAssetUnavailable), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("asset lookup failed: %w", err)
	}
	if !asset.IsActive {
		return invalid(reasonAssetUnavailable), nil
	}

	// 3. Quantity above the minimum; price positive when present.
	if order.Quantity.LessThan(core.MinOrderQuantity) {
		return invalid(reasonInvalidQuantity), nil
	}
	if order.Price.Valid && !order.Price.Decimal.IsPositive() {
		return invalid(reasonInvalidPrice), nil
	}

	// 4. Sells need a sufficient position.
	if order.Side == core.SideSell {
		available := decimal.Zero
		holding, err := v.holdings.GetHolding(ctx, order.InvestorID, order.AssetID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return Outcome{}, fmt.Errorf("holding lookup failed: %w", err)
		}
		if holding != nil {
			available = holding.Quantity
		}
		if available.LessThan(order.Quantity) {
			return invalid(insufficientHoldingsReason(available, order.Quantity)), nil
		}
	}

	// 5. Market orders need a usable reference price.
	if order.IsMarket() && !asset.CurrentPrice.IsPositive() {
		return invalid(reasonInvalidMarketPrice), nil
	}

	return Outcome{Valid: true}, nil
}
