package engine

import (
	"context"
	"errors"
	"time"

	"omc/internal/core"
	apperrors "omc/pkg/errors"
	"omc/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// PortfolioValuer joins stored holdings with asset market data. Pure read
// side: it never writes and tolerates assets that have vanished from the
// reference system.
type PortfolioValuer struct {
	store  core.IStore
	assets core.IAssetProvider
	logger core.ILogger
}

func NewPortfolioValuer(store core.IStore, assets core.IAssetProvider, logger core.ILogger) *PortfolioValuer {
	return &PortfolioValuer{
		store:  store,
		assets: assets,
		logger: logger.WithField("component", "portfolio_valuer"),
	}
}

// ValueHoldings values every holding of one investor at the asset's current
// price. A holding whose asset is unknown to the reference system is kept
// with zero market data rather than dropped.
func (v *PortfolioValuer) ValueHoldings(ctx context.Context, investorID int64) (*core.PortfolioSummary, error) {
	holdings, err := v.store.ListHoldingsForInvestor(ctx, investorID)
	if err != nil {
		return nil, err
	}

	summary := &core.PortfolioSummary{
		InvestorID: investorID,
		Holdings:   make([]*core.HoldingValuation, 0, len(holdings)),
		AsOf:       time.Now().UTC(),
	}

	for _, h := range holdings {
		val := &core.HoldingValuation{Holding: *h}
		val.CostBasis = tradingutils.Notional(h.Quantity, h.AverageCost)

		asset, err := v.assets.GetAsset(ctx, h.AssetID)
		switch {
		case err == nil:
			val.Symbol = asset.Symbol
			val.AssetName = asset.Name
			val.CurrentPrice = asset.CurrentPrice
			val.MarketValue = tradingutils.Notional(h.Quantity, asset.CurrentPrice)
		case errors.Is(err, apperrors.ErrNotFound):
			v.logger.Warn("Holding references unknown asset", "investor_id", investorID, "asset_id", h.AssetID)
			val.MarketValue = decimal.Zero
		default:
			return nil, err
		}
		val.UnrealizedGain = val.MarketValue.Sub(val.CostBasis)

		summary.Holdings = append(summary.Holdings, val)
		summary.TotalMarketValue = summary.TotalMarketValue.Add(val.MarketValue)
		summary.TotalCostBasis = summary.TotalCostBasis.Add(val.CostBasis)
	}
	summary.TotalUnrealizedGain = summary.TotalMarketValue.Sub(summary.TotalCostBasis)

	return summary, nil
}
