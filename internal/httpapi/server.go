// Package httpapi exposes the order management core over HTTP/JSON.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"omc/internal/config"
	"omc/internal/core"
)

// Server serves the order, holdings, asset and health endpoints.
type Server struct {
	cfg     config.ServerConfig
	engine  core.IOrderEngine
	assets  core.IAssetProvider
	valuer  core.IPortfolioValuer
	health  core.IHealthMonitor
	logger  core.ILogger
	limiter *rate.Limiter
	srv     *http.Server
}

// NewServer wires the API against its collaborators. A SubmitRateLimit of
// zero or less disables submission throttling.
func NewServer(cfg config.ServerConfig, engine core.IOrderEngine, assets core.IAssetProvider, valuer core.IPortfolioValuer, health core.IHealthMonitor, logger core.ILogger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		assets: assets,
		valuer: valuer,
		health: health,
		logger: logger.WithField("component", "http_api"),
	}
	if cfg.SubmitRateLimit > 0 {
		burst := cfg.SubmitRateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRateLimit), burst)
	}
	return s
}

// Router builds the route table. The investor-scoped listing registers before
// the {orderId} routes so its path never binds as an order id.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/orders/investor/{investorId:[0-9]+}", s.handleListInvestorOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/{orderId}/logs", s.handleOrderLogs).Methods(http.MethodGet)
	r.HandleFunc("/orders/{orderId}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/holdings/investor/{investorId:[0-9]+}", s.handleInvestorHoldings).Methods(http.MethodGet)
	r.HandleFunc("/assets/{assetId:[0-9]+}", s.handleGetAsset).Methods(http.MethodGet)
	r.HandleFunc("/assets", s.handleListAssets).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return r
}

// Start serves the API until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	s.logger.Info("Starting API server", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	return s.srv.Shutdown(ctx)
}
