package concurrency

import (
	"fmt"
	"time"

	"github.com/alitto/pond"

	"omc/internal/core"
)

// PoolConfig bounds one named worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking makes Submit return an error instead of blocking when the
	// queue is full.
	NonBlocking bool
}

// WorkerPool runs order workflows and settlement jobs on a bounded pond
// pool. Panics inside tasks are logged, never propagated.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a pool with at least one live worker.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 256
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("Worker pool panic recovered", "pool", cfg.Name, "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: logger.WithField("component", "worker_pool").WithField("pool", cfg.Name),
	}
}

// Submit queues a task. In blocking mode it waits for queue room; in
// non-blocking mode a full queue returns an error instead.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool %q is full (capacity %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}

	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait queues a task and blocks until it has run.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		defer close(done)
		task()
	})
	<-done
}

// Stop waits for queued tasks to drain, then releases the workers.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// QueueDepth returns the number of tasks waiting for a worker.
func (wp *WorkerPool) QueueDepth() uint64 {
	return wp.pool.WaitingTasks()
}

// Saturated reports whether the queue has no room left. Health checks use
// it to flag a stalled pipeline before submissions start failing.
func (wp *WorkerPool) Saturated() bool {
	return wp.pool.WaitingTasks() >= uint64(wp.config.MaxCapacity)
}
