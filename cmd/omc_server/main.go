package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"omc/internal/alert"
	"omc/internal/bootstrap"
	"omc/internal/core"
	"omc/internal/engine"
	"omc/internal/eventbus"
	"omc/internal/httpapi"
	"omc/internal/infrastructure/health"
	"omc/internal/infrastructure/metrics"
	"omc/internal/refdata"
	"omc/internal/settle"
	"omc/internal/store"
	"omc/pkg/concurrency"
	"omc/pkg/liveserver"
	"omc/pkg/telemetry"
)

// Version information (set via build flags)
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/omc.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "API port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("omc_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	cfg, logger := app.Cfg, app.Logger

	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Info("Starting omc_server",
		"version", version,
		"api_port", cfg.Server.Port,
		"stream_enabled", cfg.Stream.Enabled,
		"db_path", cfg.Database.Path,
	)

	tel, err := telemetry.Setup("omc_server")
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", "error", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path, cfg.Database.BusyTimeoutMS)
	if err != nil {
		logger.Fatal("Failed to open store", "error", err, "path", cfg.Database.Path)
	}

	investors, assets := buildRefData(app)

	bus := eventbus.NewBus(logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "OrderWorkflows",
		MaxWorkers:  cfg.Engine.Workers,
		MaxCapacity: cfg.Engine.QueueSize,
		NonBlocking: true,
	}, logger)

	settlementDelay := time.Duration(cfg.Settlement.DelayMS) * time.Millisecond
	eng := engine.NewEngine(st, investors, assets, bus, pool, cfg.Engine, settlementDelay, logger)

	scheduler := settle.NewScheduler(st, eng, pool, cfg.Settlement, logger)
	eng.SetScheduler(scheduler)

	alerts := alert.FromConfig(cfg.Alerts, logger)
	if alerts.ChannelCount() > 0 {
		eng.SetAlerter(alerts)
		logger.Info("Operator alerting enabled", "channels", alerts.ChannelCount())
	}

	valuer := engine.NewPortfolioValuer(st, assets, logger)

	healthMgr := health.NewManager(logger)
	healthMgr.Register("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return st.HealthCheck(ctx)
	})
	healthMgr.Register("workflow_pool", func() error {
		if pool.Saturated() {
			return fmt.Errorf("queue full at %d tasks", pool.QueueDepth())
		}
		return nil
	})

	api := httpapi.NewServer(cfg.Server, eng, assets, valuer, healthMgr, logger)

	// Long-lived internals start before the servers accept traffic.
	runCtx, cancelInternals := context.WithCancel(context.Background())
	if err := bus.Start(runCtx); err != nil {
		logger.Fatal("Failed to start event bus", "error", err)
	}
	if err := eng.Start(runCtx); err != nil {
		logger.Fatal("Failed to start order engine", "error", err)
	}
	if err := scheduler.Start(runCtx); err != nil {
		logger.Fatal("Failed to start settlement scheduler", "error", err)
	}

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsSrv.Start()
	}

	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(api.Start),
	}

	if cfg.Stream.Enabled {
		hub := liveserver.NewHub(bus, logger)
		streamSrv := liveserver.NewServer(hub, logger, liveserver.Options{
			AllowedOrigins: cfg.Stream.AllowedOrigins,
			MaxClients:     cfg.Stream.MaxClients,
			RateLimitPerIP: cfg.Stream.RateLimitPerIP,
			RateBurstPerIP: cfg.Stream.RateBurstPerIP,
		})
		streamAddr := fmt.Sprintf("%s:%d", cfg.Stream.Host, cfg.Stream.Port)

		runners = append(runners,
			bootstrap.RunnerFunc(func(ctx context.Context) error {
				hub.Run(ctx)
				return nil
			}),
			bootstrap.RunnerFunc(func(ctx context.Context) error {
				return streamSrv.Start(ctx, streamAddr)
			}),
		)
		logger.Info("Event stream enabled", "addr", streamAddr)
	}

	runErr := app.Run(runners...)

	// Shutdown: stop intake first, then drain the pipeline back to front.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()

	if err := scheduler.Stop(); err != nil {
		logger.Error("Scheduler stop failed", "error", err)
	}
	if err := eng.Stop(); err != nil {
		logger.Error("Engine stop failed", "error", err)
	}
	pool.Stop()
	if err := bus.Stop(); err != nil {
		logger.Error("Event bus stop failed", "error", err)
	}
	cancelInternals()

	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Error("Metrics server stop failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logger.Error("Store close failed", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", "error", err)
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("omc_server stopped")
}

// buildRefData assembles the configured provider, wrapped in the TTL cache
// when one is configured.
func buildRefData(app *bootstrap.App) (core.IInvestorProvider, core.IAssetProvider) {
	cfg, logger := app.Cfg, app.Logger

	var investors core.IInvestorProvider
	var assets core.IAssetProvider

	switch cfg.RefData.Provider {
	case "http":
		p := refdata.NewHTTPProvider(cfg.RefData, logger)
		investors, assets = p, p
		logger.Info("Using HTTP reference data provider", "base_url", cfg.RefData.BaseURL)
	default:
		p, err := refdata.NewStaticProvider(cfg.RefData)
		if err != nil {
			logger.Fatal("Failed to build static reference data provider", "error", err)
		}
		investors, assets = p, p
		logger.Info("Using static reference data provider",
			"investors", len(cfg.RefData.Investors), "assets", len(cfg.RefData.Assets))
	}

	if cfg.RefData.CacheTTLMS > 0 {
		cached := refdata.NewCachedProvider(investors, assets,
			time.Duration(cfg.RefData.CacheTTLMS)*time.Millisecond, logger)
		investors, assets = cached, cached
	}
	return investors, assets
}
