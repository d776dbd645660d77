package refdata

import (
	"context"
	"fmt"
	"time"

	"omc/internal/core"

	gocache "github.com/patrickmn/go-cache"
)

const assetListKey = "assets"

// CachedProvider is a read-through TTL cache in front of another provider.
// Only successful lookups are cached so a status change (a suspension lifted,
// an asset re-enabled) is picked up after at most one TTL.
type CachedProvider struct {
	investors core.IInvestorProvider
	assets    core.IAssetProvider
	cache     *gocache.Cache
	logger    core.ILogger
}

func NewCachedProvider(investors core.IInvestorProvider, assets core.IAssetProvider, ttl time.Duration, logger core.ILogger) *CachedProvider {
	return &CachedProvider{
		investors: investors,
		assets:    assets,
		cache:     gocache.New(ttl, 2*ttl),
		logger:    logger.WithField("component", "refdata_cache"),
	}
}

func (c *CachedProvider) GetInvestor(ctx context.Context, investorID int64) (*core.Investor, error) {
	key := fmt.Sprintf("investor:%d", investorID)
	if v, ok := c.cache.Get(key); ok {
		return v.(*core.Investor), nil
	}
	investor, err := c.investors.GetInvestor(ctx, investorID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, investor, gocache.DefaultExpiration)
	return investor, nil
}

func (c *CachedProvider) GetAsset(ctx context.Context, assetID int64) (*core.Asset, error) {
	key := fmt.Sprintf("asset:%d", assetID)
	if v, ok := c.cache.Get(key); ok {
		return v.(*core.Asset), nil
	}
	asset, err := c.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, asset, gocache.DefaultExpiration)
	return asset, nil
}

func (c *CachedProvider) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	if v, ok := c.cache.Get(assetListKey); ok {
		return v.([]*core.Asset), nil
	}
	assets, err := c.assets.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(assetListKey, assets, gocache.DefaultExpiration)
	return assets, nil
}
