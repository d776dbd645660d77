package settle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"omc/internal/config"
	"omc/internal/core"
	"omc/internal/engine"
	"omc/internal/refdata"
	"omc/internal/store"
	"omc/pkg/concurrency"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})          {}
func (m *mockLogger) Info(msg string, fields ...interface{})           {}
func (m *mockLogger) Warn(msg string, fields ...interface{})           {}
func (m *mockLogger) Error(msg string, fields ...interface{})          {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})          {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

type nopBus struct{}

func (b *nopBus) Publish(event *core.OrderEvent)                {}
func (b *nopBus) Subscribe(investorID int64) core.ISubscription { return nil }

type harness struct {
	store  *store.SQLiteStore
	engine *engine.Engine
	pool   *concurrency.WorkerPool
	logger core.ILogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := &mockLogger{}

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "settle_test.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	provider, err := refdata.NewStaticProvider(config.RefDataConfig{
		Investors: []config.InvestorSeed{
			{ID: 1, Name: "Ada Byron", AccountStatus: "Active"},
		},
		Assets: []config.AssetSeed{
			{ID: 10, Symbol: "ACME", Name: "Acme Corp", Active: true, CurrentPrice: "50.00"},
		},
	})
	require.NoError(t, err)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "test-settle",
		MaxWorkers:  4,
		MaxCapacity: 64,
	}, logger)
	t.Cleanup(pool.Stop)

	eng := engine.NewEngine(st, provider, provider, &nopBus{}, pool, config.EngineConfig{
		Workers:                4,
		QueueSize:              64,
		MaxAttempts:            3,
		RetryBackoffMS:         5,
		MaxBackoffMS:           20,
		WorkflowTimeoutSeconds: 5,
	}, 300*time.Millisecond, logger)

	return &harness{store: st, engine: eng, pool: pool, logger: logger}
}

func (h *harness) newScheduler(t *testing.T, delayMS, pollMS int) *Scheduler {
	t.Helper()
	sched := NewScheduler(h.store, h.engine, h.pool, config.SettlementConfig{
		DelayMS:        delayMS,
		PollIntervalMS: pollMS,
	}, h.logger)
	t.Cleanup(func() { _ = sched.Stop() })
	return sched
}

func (h *harness) waitForStatus(t *testing.T, orderID string, want core.OrderStatus) *core.Order {
	t.Helper()
	var last *core.Order
	require.Eventually(t, func() bool {
		order, err := h.store.GetOrder(context.Background(), orderID)
		if err != nil {
			return false
		}
		last = order
		return order.Status == want
	}, 5*time.Second, 10*time.Millisecond, "order %s never reached %s", orderID, want)
	return last
}

// seedFilled writes a filled order directly, as if the process had crashed
// between fill and settlement.
func (h *harness) seedFilled(t *testing.T, executedAt time.Time) *core.Order {
	t.Helper()
	order := &core.Order{
		OrderID:    uuid.NewString(),
		InvestorID: 1,
		AssetID:    10,
		Side:       core.SideBuy,
		Quantity:   decimal.New(1, 0),
		Status:     core.StatusFilled,
		OrderedAt:  executedAt.Add(-time.Second),
		ExecutedAt: &executedAt,
	}
	h.seedOrder(t, order)
	return order
}

func (h *harness) seedOrder(t *testing.T, order *core.Order) {
	t.Helper()
	tx, err := h.store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.PutOrder(order))
	require.NoError(t, tx.AppendStateLog(&core.OrderStateLog{
		OrderID:  order.OrderID,
		ToStatus: order.Status,
		LoggedBy: "test",
		LoggedAt: time.Now().UTC(),
	}))
	require.NoError(t, tx.Commit())
}

func TestOrderSettlesAfterDelay(t *testing.T) {
	h := newHarness(t)
	sched := h.newScheduler(t, 300, 25)
	h.engine.SetScheduler(sched)
	require.NoError(t, sched.Start(context.Background()))

	order, err := h.engine.CreateOrder(context.Background(), &core.CreateOrderRequest{
		InvestorID: 1,
		AssetID:    10,
		Side:       core.SideBuy,
		Quantity:   decimal.New(2, 0),
	})
	require.NoError(t, err)

	settled := h.waitForStatus(t, order.OrderID, core.StatusSettled)
	require.NotNil(t, settled.ExecutedAt)
	require.NotNil(t, settled.SettledAt)

	// The scheduler must not fire before the configured delay has elapsed.
	elapsed := settled.SettledAt.Sub(*settled.ExecutedAt)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "settled too early: %s", elapsed)

	logs, err := h.store.ListStateLogs(context.Background(), order.OrderID)
	require.NoError(t, err)
	final := logs[len(logs)-1]
	assert.Equal(t, core.StatusFilled, final.FromStatus)
	assert.Equal(t, core.StatusSettled, final.ToStatus)
	assert.Equal(t, "scheduler", final.LoggedBy)
}

func TestStartRebuildsDueTableFromStorage(t *testing.T) {
	h := newHarness(t)

	// Two backlogged orders: one already past due, one still inside the delay.
	overdue := h.seedFilled(t, time.Now().UTC().Add(-time.Hour))
	recent := h.seedFilled(t, time.Now().UTC())

	sched := h.newScheduler(t, 60000, 25)
	require.NoError(t, sched.Start(context.Background()))

	h.waitForStatus(t, overdue.OrderID, core.StatusSettled)

	fresh, err := h.store.GetOrder(context.Background(), recent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, fresh.Status, "order inside the delay window must stay filled")
	assert.Equal(t, 1, sched.Pending())
}

func TestDueEntryForNonFilledOrderIsDiscarded(t *testing.T) {
	h := newHarness(t)

	order := &core.Order{
		OrderID:    uuid.NewString(),
		InvestorID: 1,
		AssetID:    10,
		Side:       core.SideBuy,
		Quantity:   decimal.New(1, 0),
		Status:     core.StatusRejected,
		OrderedAt:  time.Now().UTC(),
	}
	h.seedOrder(t, order)

	sched := h.newScheduler(t, 50, 25)
	sched.Schedule(order.OrderID, time.Now().Add(-time.Second))
	require.NoError(t, sched.Start(context.Background()))

	require.Eventually(t, func() bool {
		return sched.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)

	fresh, err := h.store.GetOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, fresh.Status)
	assert.Nil(t, fresh.SettledAt)
}

func TestDueEntryForMissingOrderIsDropped(t *testing.T) {
	h := newHarness(t)

	sched := h.newScheduler(t, 50, 25)
	sched.Schedule("no-such-order", time.Now().Add(-time.Second))
	require.NoError(t, sched.Start(context.Background()))

	require.Eventually(t, func() bool {
		return sched.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// No requeue: the entry stays gone.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sched.Pending())
}

func TestRescheduleReplacesDeadline(t *testing.T) {
	h := newHarness(t)
	order := h.seedFilled(t, time.Now().UTC())

	sched := h.newScheduler(t, 50, 25)
	sched.Schedule(order.OrderID, time.Now().Add(time.Hour))
	sched.Schedule(order.OrderID, time.Now().Add(-time.Second))
	assert.Equal(t, 1, sched.Pending())

	require.NoError(t, sched.Start(context.Background()))
	h.waitForStatus(t, order.OrderID, core.StatusSettled)
}

func TestStopHaltsPolling(t *testing.T) {
	h := newHarness(t)

	sched := h.newScheduler(t, 50, 25)
	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop())

	order := h.seedFilled(t, time.Now().UTC().Add(-time.Hour))
	sched.Schedule(order.OrderID, time.Now().Add(-time.Second))
	time.Sleep(150 * time.Millisecond)

	fresh, err := h.store.GetOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, fresh.Status, "stopped scheduler must not settle")
}
