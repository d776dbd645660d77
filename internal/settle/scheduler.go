// Package settle drives deferred settlement: every filled order becomes
// settled a fixed delay after execution. The due table lives in memory and
// is rebuilt from storage on startup, so a missed deadline survives a
// restart as "late", never as "lost".
package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"omc/internal/config"
	"omc/internal/core"
	"omc/pkg/concurrency"
	apperrors "omc/pkg/errors"
	"omc/pkg/telemetry"
)

const settleJobTimeout = 10 * time.Second

// Scheduler owns the in-memory due table and the poll loop that fires
// settlement jobs onto the worker pool.
type Scheduler struct {
	store   core.IStore
	engine  core.IOrderEngine
	pool    *concurrency.WorkerPool
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	delay        time.Duration
	pollInterval time.Duration

	mu  sync.Mutex
	due map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a settlement scheduler. Start must be called to
// rebuild the due table and begin polling.
func NewScheduler(
	store core.IStore,
	engine core.IOrderEngine,
	pool *concurrency.WorkerPool,
	cfg config.SettlementConfig,
	logger core.ILogger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:        store,
		engine:       engine,
		pool:         pool,
		logger:       logger.WithField("component", "settlement_scheduler"),
		metrics:      telemetry.GetGlobalMetrics(),
		delay:        time.Duration(cfg.DelayMS) * time.Millisecond,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		due:          make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Delay returns the configured execution-to-settlement delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Start rebuilds the due table from filled-but-unsettled orders and launches
// the poll loop. An order whose deadline passed while the process was down
// fires on the first pass.
func (s *Scheduler) Start(ctx context.Context) error {
	orders, err := s.store.ListFilledUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan filled orders: %w", err)
	}
	for _, order := range orders {
		executedAt := order.OrderedAt
		if order.ExecutedAt != nil {
			executedAt = *order.ExecutedAt
		}
		s.Schedule(order.OrderID, executedAt.Add(s.delay))
	}

	s.logger.Info("Starting settlement scheduler",
		"pending", len(orders),
		"delay", s.delay.String(),
		"poll_interval", s.pollInterval.String(),
	)

	s.wg.Add(1)
	go s.runLoop()
	return nil
}

// Stop halts the poll loop. Entries still in the due table are not lost:
// the next Start rebuilds them from storage.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping settlement scheduler")
	s.cancel()
	s.wg.Wait()
	return nil
}

// Schedule records when an order becomes due. Re-scheduling an order
// replaces its deadline.
func (s *Scheduler) Schedule(orderID string, dueAt time.Time) {
	s.mu.Lock()
	s.due[orderID] = dueAt
	pending := len(s.due)
	s.mu.Unlock()

	s.metrics.SetSettlementsPending(int64(pending))
	s.logger.Debug("Settlement scheduled", "order_id", orderID, "due_at", dueAt.Format(time.RFC3339))
}

// Pending returns the number of orders awaiting settlement.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.due)
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.firePass(time.Now())
		}
	}
}

// firePass removes every due entry and submits a settlement job for each.
// A job the pool cannot take is put back for the next pass.
func (s *Scheduler) firePass(now time.Time) {
	for _, orderID := range s.collectDue(now) {
		id := orderID
		if err := s.pool.Submit(func() { s.settleOne(id) }); err != nil {
			s.logger.Warn("Worker pool full, settlement deferred to next pass", "order_id", id)
			s.Schedule(id, now)
		}
	}
}

func (s *Scheduler) collectDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []string
	for orderID, dueAt := range s.due {
		if !dueAt.After(now) {
			ready = append(ready, orderID)
			delete(s.due, orderID)
		}
	}
	if len(ready) > 0 {
		s.metrics.SetSettlementsPending(int64(len(s.due)))
	}
	return ready
}

func (s *Scheduler) settleOne(orderID string) {
	ctx, cancel := context.WithTimeout(s.ctx, settleJobTimeout)
	defer cancel()

	err := s.engine.Settle(ctx, orderID)
	switch {
	case err == nil:
		// Settled, or skipped because the order left Filled first.
	case errors.Is(err, apperrors.ErrNotFound):
		s.logger.Warn("Settlement target no longer exists, dropping", "order_id", orderID)
	default:
		s.logger.Error("Settlement failed, requeueing", "order_id", orderID, "error", err)
		s.Schedule(orderID, time.Now().Add(s.pollInterval))
	}
}
