// Package refdata provides investor and asset lookups. Both entities are
// owned by external systems; the providers here only read them.
package refdata

import (
	"context"
	"fmt"
	"sort"

	"omc/internal/config"
	"omc/internal/core"
	apperrors "omc/pkg/errors"

	"github.com/shopspring/decimal"
)

// StaticProvider serves reference data from configuration seeds. It backs
// the demo setup and tests where no external service exists.
type StaticProvider struct {
	investors map[int64]core.Investor
	assets    map[int64]core.Asset
}

func NewStaticProvider(cfg config.RefDataConfig) (*StaticProvider, error) {
	p := &StaticProvider{
		investors: make(map[int64]core.Investor, len(cfg.Investors)),
		assets:    make(map[int64]core.Asset, len(cfg.Assets)),
	}
	for _, seed := range cfg.Investors {
		p.investors[seed.ID] = core.Investor{
			InvestorID:    seed.ID,
			Name:          seed.Name,
			AccountStatus: core.AccountStatus(seed.AccountStatus),
		}
	}
	for _, seed := range cfg.Assets {
		price, err := decimal.NewFromString(seed.CurrentPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid price for asset %d: %w", seed.ID, err)
		}
		p.assets[seed.ID] = core.Asset{
			AssetID:      seed.ID,
			Symbol:       seed.Symbol,
			Name:         seed.Name,
			IsActive:     seed.Active,
			CurrentPrice: price,
		}
	}
	return p, nil
}

func (p *StaticProvider) GetInvestor(ctx context.Context, investorID int64) (*core.Investor, error) {
	investor, ok := p.investors[investorID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &investor, nil
}

func (p *StaticProvider) GetAsset(ctx context.Context, assetID int64) (*core.Asset, error) {
	asset, ok := p.assets[assetID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &asset, nil
}

func (p *StaticProvider) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	assets := make([]*core.Asset, 0, len(p.assets))
	for id := range p.assets {
		asset := p.assets[id]
		assets = append(assets, &asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].AssetID < assets[j].AssetID })
	return assets, nil
}
