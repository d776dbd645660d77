package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"omc/internal/config"
	"omc/internal/core"
	apperrors "omc/pkg/errors"
	httpclient "omc/pkg/http"
)

// apiKeySigner attaches the reference-data service credential to every request.
type apiKeySigner struct {
	key string
}

func (s *apiKeySigner) SignRequest(req *http.Request) error {
	req.Header.Set("X-API-Key", s.key)
	return nil
}

// HTTPProvider reads reference data from an external service over HTTP.
// Retries and circuit breaking live in the underlying client.
type HTTPProvider struct {
	client *httpclient.Client
	logger core.ILogger
}

func NewHTTPProvider(cfg config.RefDataConfig, logger core.ILogger) *HTTPProvider {
	var signer httpclient.Signer
	if cfg.APIKey.IsSet() {
		signer = &apiKeySigner{key: cfg.APIKey.Reveal()}
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &HTTPProvider{
		client: httpclient.NewClient(cfg.BaseURL, timeout, signer),
		logger: logger.WithField("component", "refdata_http"),
	}
}

func (p *HTTPProvider) GetInvestor(ctx context.Context, investorID int64) (*core.Investor, error) {
	body, err := p.client.Get(ctx, fmt.Sprintf("/investors/%d", investorID), nil)
	if err != nil {
		return nil, mapProviderErr(err)
	}
	var investor core.Investor
	if err := json.Unmarshal(body, &investor); err != nil {
		return nil, fmt.Errorf("failed to decode investor: %w", err)
	}
	return &investor, nil
}

func (p *HTTPProvider) GetAsset(ctx context.Context, assetID int64) (*core.Asset, error) {
	body, err := p.client.Get(ctx, fmt.Sprintf("/assets/%d", assetID), nil)
	if err != nil {
		return nil, mapProviderErr(err)
	}
	var asset core.Asset
	if err := json.Unmarshal(body, &asset); err != nil {
		return nil, fmt.Errorf("failed to decode asset: %w", err)
	}
	return &asset, nil
}

func (p *HTTPProvider) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	body, err := p.client.Get(ctx, "/assets", nil)
	if err != nil {
		return nil, mapProviderErr(err)
	}
	var assets []*core.Asset
	if err := json.Unmarshal(body, &assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets: %w", err)
	}
	return assets, nil
}

func mapProviderErr(err error) error {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return apperrors.ErrNotFound
	}
	return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
}
