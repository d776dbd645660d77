package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// HoldingValuation is a holding joined with the owning asset's market data.
// The store keeps ids only; views assemble this shape at the read boundary.
type HoldingValuation struct {
	Holding
	Symbol         string          `json:"symbol"`
	AssetName      string          `json:"assetName"`
	CurrentPrice   decimal.Decimal `json:"currentPrice"`
	MarketValue    decimal.Decimal `json:"marketValue"`
	CostBasis      decimal.Decimal `json:"costBasis"`
	UnrealizedGain decimal.Decimal `json:"unrealizedGain"`
}

// PortfolioSummary aggregates one investor's valued holdings.
type PortfolioSummary struct {
	InvestorID          int64               `json:"investorId"`
	Holdings            []*HoldingValuation `json:"holdings"`
	TotalMarketValue    decimal.Decimal     `json:"totalMarketValue"`
	TotalCostBasis      decimal.Decimal     `json:"totalCostBasis"`
	TotalUnrealizedGain decimal.Decimal     `json:"totalUnrealizedGain"`
	AsOf                time.Time           `json:"asOf"`
}

// IPortfolioValuer hydrates an investor's holdings with market values
type IPortfolioValuer interface {
	ValueHoldings(ctx context.Context, investorID int64) (*PortfolioSummary, error)
}

// AlertLevel grades operator notifications
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// IAlerter pushes notifications about failures the system absorbed on its
// own, such as an order rejected by a storage timeout.
type IAlerter interface {
	Alert(ctx context.Context, level AlertLevel, title, message string, fields map[string]string)
}
