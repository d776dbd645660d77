package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersCreatedTotal   = "omc_orders_created_total"
	MetricTransitionsTotal     = "omc_order_transitions_total"
	MetricTradesExecutedTotal  = "omc_trades_executed_total"
	MetricTradeVolumeTotal     = "omc_trade_volume_total"
	MetricSettlementsTotal     = "omc_settlements_total"
	MetricWorkflowRetriesTotal = "omc_workflow_retries_total"
	MetricIdempotentHitsTotal  = "omc_idempotent_hits_total"
	MetricSettlementsPending   = "omc_settlements_pending"
	MetricWorkflowDuration     = "omc_workflow_duration_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersCreatedTotal   metric.Int64Counter
	TransitionsTotal     metric.Int64Counter
	TradesExecutedTotal  metric.Int64Counter
	TradeVolumeTotal     metric.Float64Counter
	SettlementsTotal     metric.Int64Counter
	WorkflowRetriesTotal metric.Int64Counter
	IdempotentHitsTotal  metric.Int64Counter
	SettlementsPending   metric.Int64ObservableGauge
	WorkflowDuration     metric.Float64Histogram

	// State for observable gauges
	mu                 sync.RWMutex
	settlementsPending int64
	initialized        bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersCreatedTotal, err = meter.Int64Counter(MetricOrdersCreatedTotal, metric.WithDescription("Total orders admitted"))
	if err != nil {
		return err
	}

	m.TransitionsTotal, err = meter.Int64Counter(MetricTransitionsTotal, metric.WithDescription("Total order state transitions by target status"))
	if err != nil {
		return err
	}

	m.TradesExecutedTotal, err = meter.Int64Counter(MetricTradesExecutedTotal, metric.WithDescription("Total trades executed"))
	if err != nil {
		return err
	}

	m.TradeVolumeTotal, err = meter.Float64Counter(MetricTradeVolumeTotal, metric.WithDescription("Total executed notional volume"))
	if err != nil {
		return err
	}

	m.SettlementsTotal, err = meter.Int64Counter(MetricSettlementsTotal, metric.WithDescription("Total orders settled"))
	if err != nil {
		return err
	}

	m.WorkflowRetriesTotal, err = meter.Int64Counter(MetricWorkflowRetriesTotal, metric.WithDescription("Total transient retries inside the order workflow"))
	if err != nil {
		return err
	}

	m.IdempotentHitsTotal, err = meter.Int64Counter(MetricIdempotentHitsTotal, metric.WithDescription("Total submissions resolved to a prior order by idempotency key"))
	if err != nil {
		return err
	}

	m.WorkflowDuration, err = meter.Float64Histogram(MetricWorkflowDuration, metric.WithDescription("Duration of one order workflow run"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.SettlementsPending, err = meter.Int64ObservableGauge(MetricSettlementsPending, metric.WithDescription("Settlement jobs currently scheduled"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.settlementsPending)
			return nil
		}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	return nil
}

// ready reports whether InitMetrics has run; all recorders are no-ops before that.
func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Helpers to record domain events

func (m *MetricsHolder) RecordOrderCreated(ctx context.Context, side string) {
	if !m.ready() {
		return
	}
	m.OrdersCreatedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

func (m *MetricsHolder) RecordTransition(ctx context.Context, toStatus string) {
	if !m.ready() {
		return
	}
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("to_status", toStatus)))
}

func (m *MetricsHolder) RecordTrade(ctx context.Context, side string, notional float64) {
	if !m.ready() {
		return
	}
	m.TradesExecutedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
	m.TradeVolumeTotal.Add(ctx, notional, metric.WithAttributes(attribute.String("side", side)))
}

func (m *MetricsHolder) RecordSettlement(ctx context.Context) {
	if !m.ready() {
		return
	}
	m.SettlementsTotal.Add(ctx, 1)
}

func (m *MetricsHolder) RecordWorkflowRetry(ctx context.Context) {
	if !m.ready() {
		return
	}
	m.WorkflowRetriesTotal.Add(ctx, 1)
}

func (m *MetricsHolder) RecordIdempotentHit(ctx context.Context) {
	if !m.ready() {
		return
	}
	m.IdempotentHitsTotal.Add(ctx, 1)
}

func (m *MetricsHolder) RecordWorkflowDuration(ctx context.Context, millis float64, outcome string) {
	if !m.ready() {
		return
	}
	m.WorkflowDuration.Record(ctx, millis, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *MetricsHolder) SetSettlementsPending(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlementsPending = count
}

func (m *MetricsHolder) GetSettlementsPending() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settlementsPending
}
