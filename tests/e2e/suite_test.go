// Package e2e exercises the assembled order management stack: engine,
// store, event bus, settlement scheduler and the HTTP surfaces.
package e2e

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"omc/internal/config"
	"omc/internal/core"
	"omc/internal/engine"
	"omc/internal/eventbus"
	"omc/internal/refdata"
	"omc/internal/settle"
	"omc/internal/store"
	"omc/pkg/concurrency"
	"omc/pkg/logging"
	"omc/pkg/telemetry"
)

const (
	investorActive    int64 = 1
	investorSuspended int64 = 2
	assetActive       int64 = 10
	assetInactive     int64 = 20
)

func init() {
	if _, err := telemetry.Setup("e2e"); err != nil {
		panic(err)
	}
}

// stack is one fully wired instance sharing a single SQLite file, so a test
// can stop it and boot a second instance on the same state.
type stack struct {
	dbPath    string
	store     *store.SQLiteStore
	bus       *eventbus.Bus
	pool      *concurrency.WorkerPool
	engine    *engine.Engine
	scheduler *settle.Scheduler
	valuer    *engine.PortfolioValuer
	provider  *refdata.StaticProvider
	logger    core.ILogger
}

type stackOptions struct {
	dbPath          string
	workers         int
	settlementDelay time.Duration
	pollInterval    time.Duration
	autostart       bool
}

func defaultOptions(t *testing.T) stackOptions {
	return stackOptions{
		dbPath:          filepath.Join(t.TempDir(), "omc_e2e.db"),
		workers:         4,
		settlementDelay: 300 * time.Millisecond,
		pollInterval:    25 * time.Millisecond,
		autostart:       true,
	}
}

func newStack(t *testing.T, opts stackOptions) *stack {
	t.Helper()

	logger, err := logging.NewZapLogger("ERROR", "console")
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(opts.dbPath, 5000)
	require.NoError(t, err)

	provider, err := refdata.NewStaticProvider(config.RefDataConfig{
		Investors: []config.InvestorSeed{
			{ID: investorActive, Name: "Ada Byron", AccountStatus: "Active"},
			{ID: investorSuspended, Name: "Charles Babbage", AccountStatus: "Suspended"},
		},
		Assets: []config.AssetSeed{
			{ID: assetActive, Symbol: "ACME", Name: "Acme Industrial", Active: true, CurrentPrice: "50.00"},
			{ID: assetInactive, Symbol: "GLOB", Name: "Globex Holdings", Active: false, CurrentPrice: "12.50"},
		},
	})
	require.NoError(t, err)

	bus := eventbus.NewBus(logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "e2e-workflows",
		MaxWorkers:  opts.workers,
		MaxCapacity: 256,
	}, logger)

	eng := engine.NewEngine(st, provider, provider, bus, pool, config.EngineConfig{
		Workers:                opts.workers,
		QueueSize:              256,
		MaxAttempts:            5,
		RetryBackoffMS:         5,
		MaxBackoffMS:           50,
		WorkflowTimeoutSeconds: 10,
	}, opts.settlementDelay, logger)

	scheduler := settle.NewScheduler(st, eng, pool, config.SettlementConfig{
		DelayMS:        int(opts.settlementDelay / time.Millisecond),
		PollIntervalMS: int(opts.pollInterval / time.Millisecond),
	}, logger)
	eng.SetScheduler(scheduler)

	s := &stack{
		dbPath:    opts.dbPath,
		store:     st,
		bus:       bus,
		pool:      pool,
		engine:    eng,
		scheduler: scheduler,
		valuer:    engine.NewPortfolioValuer(st, provider, logger),
		provider:  provider,
		logger:    logger,
	}

	if opts.autostart {
		s.start(t)
	}
	t.Cleanup(s.shutdown)
	return s
}

func (s *stack) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.bus.Start(ctx))
	require.NoError(t, s.engine.Start(ctx))
	require.NoError(t, s.scheduler.Start(ctx))
}

// shutdown is idempotent so tests that already stopped the stack can leave
// cleanup to run again.
func (s *stack) shutdown() {
	_ = s.scheduler.Stop()
	_ = s.engine.Stop()
	s.pool.Stop()
	_ = s.bus.Stop()
	_ = s.store.Close()
}

func (s *stack) waitForStatus(t *testing.T, orderID string, want core.OrderStatus) *core.Order {
	t.Helper()
	var last *core.Order
	require.Eventually(t, func() bool {
		order, err := s.store.GetOrder(context.Background(), orderID)
		if err != nil {
			return false
		}
		last = order
		return order.Status == want
	}, 10*time.Second, 10*time.Millisecond, "order %s never reached %s", orderID, want)
	return last
}

func (s *stack) waitForTerminal(t *testing.T, orderID string) *core.Order {
	t.Helper()
	var last *core.Order
	require.Eventually(t, func() bool {
		order, err := s.store.GetOrder(context.Background(), orderID)
		if err != nil {
			return false
		}
		last = order
		return order.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond, "order %s never reached a terminal status", orderID)
	return last
}

func (s *stack) submit(t *testing.T, investorID, assetID int64, side core.OrderSide, qty string, price *string, key string) *core.Order {
	t.Helper()

	req := &core.CreateOrderRequest{
		InvestorID:     investorID,
		AssetID:        assetID,
		Side:           side,
		Quantity:       decimal.RequireFromString(qty),
		IdempotencyKey: key,
	}
	if price != nil {
		req.Price = decimal.NullDecimal{Decimal: decimal.RequireFromString(*price), Valid: true}
	}

	order, err := s.engine.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	return order
}

func (s *stack) statusPath(t *testing.T, orderID string) []core.OrderStatus {
	t.Helper()
	logs, err := s.store.ListStateLogs(context.Background(), orderID)
	require.NoError(t, err)

	path := make([]core.OrderStatus, 0, len(logs))
	for _, rec := range logs {
		path = append(path, rec.ToStatus)
	}
	return path
}

func strPtr(s string) *string { return &s }
