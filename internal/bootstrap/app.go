// Package bootstrap assembles configuration, logging and process lifecycle
// for the omc server binary.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"omc/internal/config"
	"omc/internal/core"
)

// App holds the dependencies every binary needs before wiring its own.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger
}

// NewApp loads .env (best effort), the YAML config and the logger, and runs
// the pre-flight checks.
func NewApp(configPath string) (*App, error) {
	// .env values must land in the environment before ${ENV} expansion runs.
	_ = godotenv.Load()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:    cfg,
		Logger: logger,
	}, nil
}

// Runner is one long-lived component supervised by Run.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a closure to the Runner interface.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run supervises the runners until the first failure or a termination
// signal, then waits for all of them to drain.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	a.Logger.Info("Application started")

	if err := g.Wait(); err != nil && err != context.Canceled {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down")
	return nil
}
