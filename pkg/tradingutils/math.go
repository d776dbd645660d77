package tradingutils

import (
	"github.com/shopspring/decimal"
)

// CostPrecision is the number of fractional digits kept on derived cost values.
const CostPrecision = 8

// WeightedAverageCost blends an existing position with a new fill:
// (oldQty*oldAvg + fillQty*fillPrice) / (oldQty + fillQty), rounded half to
// even at CostPrecision digits.
func WeightedAverageCost(oldQty, oldAvg, fillQty, fillPrice decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(fillQty)
	if newQty.IsZero() {
		return decimal.Zero
	}
	totalCost := oldQty.Mul(oldAvg).Add(fillQty.Mul(fillPrice))
	return totalCost.Div(newQty).RoundBank(CostPrecision)
}

// Notional computes the cash value of a fill
func Notional(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price)
}
