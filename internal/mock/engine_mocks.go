// Package mock provides hand-rolled fakes for the core interfaces, used by
// handler and wiring tests that should not drag in sqlite and a worker pool.
package mock

import (
	"context"
	"sync"
	"time"

	"omc/internal/core"
	apperrors "omc/pkg/errors"
)

// MockOrderEngine implements core.IOrderEngine. Each method delegates to an
// optional hook and records its call; an un-hooked lookup reports not-found.
type MockOrderEngine struct {
	mu sync.Mutex

	CreateOrderFn func(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, error)
	CancelOrderFn func(ctx context.Context, orderID, reason string) (*core.Order, error)
	GetOrderFn    func(ctx context.Context, orderID string) (*core.Order, error)
	ListOrdersFn  func(ctx context.Context, investorID int64, from *time.Time) ([]*core.Order, error)
	ListLogsFn    func(ctx context.Context, orderID string) ([]*core.OrderStateLog, error)
	SettleFn      func(ctx context.Context, orderID string) error

	createCalls []*core.CreateOrderRequest
	cancelCalls []string
}

var _ core.IOrderEngine = (*MockOrderEngine)(nil)

func NewMockOrderEngine() *MockOrderEngine {
	return &MockOrderEngine{}
}

func (m *MockOrderEngine) CreateOrder(ctx context.Context, req *core.CreateOrderRequest) (*core.Order, error) {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, req)
	m.mu.Unlock()

	if m.CreateOrderFn != nil {
		return m.CreateOrderFn(ctx, req)
	}
	return &core.Order{
		OrderID:        "mock-order",
		InvestorID:     req.InvestorID,
		AssetID:        req.AssetID,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Status:         core.StatusNew,
		IdempotencyKey: req.IdempotencyKey,
		OrderedAt:      time.Now().UTC(),
	}, nil
}

func (m *MockOrderEngine) CancelOrder(ctx context.Context, orderID, reason string) (*core.Order, error) {
	m.mu.Lock()
	m.cancelCalls = append(m.cancelCalls, orderID)
	m.mu.Unlock()

	if m.CancelOrderFn != nil {
		return m.CancelOrderFn(ctx, orderID, reason)
	}
	return nil, apperrors.ErrNotFound
}

func (m *MockOrderEngine) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	if m.GetOrderFn != nil {
		return m.GetOrderFn(ctx, orderID)
	}
	return nil, apperrors.ErrNotFound
}

func (m *MockOrderEngine) ListOrdersForInvestor(ctx context.Context, investorID int64, from *time.Time) ([]*core.Order, error) {
	if m.ListOrdersFn != nil {
		return m.ListOrdersFn(ctx, investorID, from)
	}
	return nil, nil
}

func (m *MockOrderEngine) ListStateLogs(ctx context.Context, orderID string) ([]*core.OrderStateLog, error) {
	if m.ListLogsFn != nil {
		return m.ListLogsFn(ctx, orderID)
	}
	return nil, nil
}

func (m *MockOrderEngine) Settle(ctx context.Context, orderID string) error {
	if m.SettleFn != nil {
		return m.SettleFn(ctx, orderID)
	}
	return nil
}

// CreateCalls returns a copy of the recorded submissions.
func (m *MockOrderEngine) CreateCalls() []*core.CreateOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.CreateOrderRequest, len(m.createCalls))
	copy(out, m.createCalls)
	return out
}

// CancelCalls returns a copy of the recorded cancellations.
func (m *MockOrderEngine) CancelCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelCalls))
	copy(out, m.cancelCalls)
	return out
}

// MockPortfolioValuer implements core.IPortfolioValuer.
type MockPortfolioValuer struct {
	ValueHoldingsFn func(ctx context.Context, investorID int64) (*core.PortfolioSummary, error)
}

var _ core.IPortfolioValuer = (*MockPortfolioValuer)(nil)

func (m *MockPortfolioValuer) ValueHoldings(ctx context.Context, investorID int64) (*core.PortfolioSummary, error) {
	if m.ValueHoldingsFn != nil {
		return m.ValueHoldingsFn(ctx, investorID)
	}
	return &core.PortfolioSummary{InvestorID: investorID, AsOf: time.Now().UTC()}, nil
}

// MockAlerter implements core.IAlerter and records every alert.
type MockAlerter struct {
	mu     sync.Mutex
	alerts []MockAlert
}

// MockAlert is one recorded notification.
type MockAlert struct {
	Level   core.AlertLevel
	Title   string
	Message string
	Fields  map[string]string
}

var _ core.IAlerter = (*MockAlerter)(nil)

func (m *MockAlerter) Alert(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, MockAlert{Level: level, Title: title, Message: message, Fields: fields})
}

// Alerts returns a copy of the recorded notifications.
func (m *MockAlerter) Alerts() []MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
