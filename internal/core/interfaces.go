// Package core defines the entities and core interfaces of the order management system
package core

import (
	"context"
	"time"
)

// ITx is one transactional scope over the entity store. All mutations made
// through a Tx commit atomically or not at all.
type ITx interface {
	// Order operations
	GetOrder(orderID string) (*Order, error)
	PutOrder(order *Order) error

	// Trade operations
	InsertTrade(trade *Trade) error

	// Holding operations
	GetHolding(investorID, assetID int64) (*Holding, error)
	PutHolding(holding *Holding) error
	DeleteHolding(investorID, assetID int64) error

	// State log
	AppendStateLog(rec *OrderStateLog) error

	// ReserveIdempotencyKey maps key -> orderID inside this transaction.
	// created reports whether the reservation is new; when false, existingID
	// is the order the key already maps to.
	ReserveIdempotencyKey(key, orderID string) (existingID string, created bool, err error)

	Commit() error
	Rollback() error
}

// IStore defines the interface for entity persistence
type IStore interface {
	Begin(ctx context.Context) (ITx, error)

	// Read-side lookups outside any transaction
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrdersForInvestor(ctx context.Context, investorID int64, from *time.Time) ([]*Order, error)
	ListStateLogs(ctx context.Context, orderID string) ([]*OrderStateLog, error)
	GetTradeForOrder(ctx context.Context, orderID string) (*Trade, error)
	GetHolding(ctx context.Context, investorID, assetID int64) (*Holding, error)
	ListHoldingsForInvestor(ctx context.Context, investorID int64) ([]*Holding, error)

	// ListFilledUnsettled returns orders in Filled without a settledAt, for
	// scheduler reconstruction after a restart.
	ListFilledUnsettled(ctx context.Context) ([]*Order, error)

	// ListInFlight returns orders in a non-terminal state before Filled, for
	// workflow resumption after a restart.
	ListInFlight(ctx context.Context) ([]*Order, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// IInvestorProvider defines read-only access to investor records, which are
// owned by an external system.
type IInvestorProvider interface {
	GetInvestor(ctx context.Context, investorID int64) (*Investor, error)
}

// IAssetProvider defines read-only access to asset records, which are owned
// by an external system.
type IAssetProvider interface {
	GetAsset(ctx context.Context, assetID int64) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
}

// ISubscription is one subscriber's view of the event bus.
type ISubscription interface {
	Events() <-chan *OrderEvent
	Close()
}

// IEventBus defines the interface for post-commit order event fan-out
type IEventBus interface {
	// Publish enqueues an event for delivery. It never blocks the caller.
	Publish(event *OrderEvent)
	// Subscribe registers a subscriber for one investor's events.
	Subscribe(investorID int64) ISubscription
}

// IOrderEngine defines the interface for the order lifecycle engine
type IOrderEngine interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrdersForInvestor(ctx context.Context, investorID int64, from *time.Time) ([]*Order, error)
	ListStateLogs(ctx context.Context, orderID string) ([]*OrderStateLog, error)

	// Settle transitions Filled -> Settled iff the order is still Filled.
	// Any other status is a silent no-op.
	Settle(ctx context.Context, orderID string) error
}

// ISettlementScheduler defines the interface for deferred settlement
type ISettlementScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	Schedule(orderID string, dueAt time.Time)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
