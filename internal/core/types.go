package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. Values are the wire vocabulary.
type OrderStatus string

const (
	StatusNew        OrderStatus = "NEW"
	StatusValidating OrderStatus = "VALIDATING"
	StatusValidated  OrderStatus = "VALIDATED"
	StatusExecuting  OrderStatus = "EXECUTING"
	StatusFilled     OrderStatus = "FILLED"
	StatusSettled    OrderStatus = "SETTLED"
	StatusRejected   OrderStatus = "REJECTED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// legalTransitions lists the allowed next states for each non-terminal state.
var legalTransitions = map[OrderStatus][]OrderStatus{
	StatusNew:        {StatusValidating, StatusCancelled},
	StatusValidating: {StatusValidated, StatusRejected},
	StatusValidated:  {StatusExecuting, StatusCancelled},
	StatusExecuting:  {StatusFilled, StatusRejected},
	StatusFilled:     {StatusSettled},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusSettled || s == StatusCancelled
}

// Cancellable reports whether a cancel request is legal in this status.
func (s OrderStatus) Cancellable() bool {
	return s == StatusNew || s == StatusValidated
}

// OrderSide distinguishes buys from sells. Values are the wire vocabulary.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Valid reports whether the side is one of the known values.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// AccountStatus is the standing of an investor account, owned by an external system.
type AccountStatus string

const (
	AccountActive    AccountStatus = "Active"
	AccountSuspended AccountStatus = "Suspended"
	AccountClosed    AccountStatus = "Closed"
)

// Order is the unit of work moving through the lifecycle.
type Order struct {
	OrderID        string              `json:"orderId"`
	InvestorID     int64               `json:"investorId"`
	AssetID        int64               `json:"assetId"`
	Side           OrderSide           `json:"side"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	Status         OrderStatus         `json:"status"`
	IdempotencyKey string              `json:"idempotencyKey,omitempty"`
	OrderedAt      time.Time           `json:"orderedAt"`
	ExecutedAt     *time.Time          `json:"executedAt,omitempty"`
	SettledAt      *time.Time          `json:"settledAt,omitempty"`
}

// IsMarket reports whether the order carries no limit price.
func (o *Order) IsMarket() bool {
	return !o.Price.Valid
}

// Clone returns a copy safe to hand to subscribers.
func (o *Order) Clone() *Order {
	c := *o
	if o.ExecutedAt != nil {
		t := *o.ExecutedAt
		c.ExecutedAt = &t
	}
	if o.SettledAt != nil {
		t := *o.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// Trade records one successful execution, immutable after creation.
type Trade struct {
	TradeID        string          `json:"tradeId"`
	OrderID        string          `json:"orderId"`
	InvestorID     int64           `json:"investorId"`
	AssetID        int64           `json:"assetId"`
	Quantity       decimal.Decimal `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"executionPrice"`
	Side           OrderSide       `json:"side"`
	TradedAt       time.Time       `json:"tradedAt"`
}

// Holding is an investor's position in one asset.
type Holding struct {
	InvestorID  int64           `json:"investorId"`
	AssetID     int64           `json:"assetId"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Investor is owned by an external system; the core only reads it.
type Investor struct {
	InvestorID    int64         `json:"investorId"`
	Name          string        `json:"name"`
	AccountStatus AccountStatus `json:"accountStatus"`
}

// Asset is owned by an external system; the core only reads it.
type Asset struct {
	AssetID      int64           `json:"assetId"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	IsActive     bool            `json:"isActive"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
}

// OrderStateLog is one append-only transition record. FromStatus is empty
// for the creation record.
type OrderStateLog struct {
	ID         int64       `json:"id"`
	OrderID    string      `json:"orderId"`
	FromStatus OrderStatus `json:"fromStatus,omitempty"`
	ToStatus   OrderStatus `json:"toStatus"`
	Reason     string      `json:"reason,omitempty"`
	LoggedBy   string      `json:"loggedBy"`
	LoggedAt   time.Time   `json:"loggedAt"`
}

// OrderEvent is published on the event bus after a transition commits.
// PreviousStatus is empty for the creation event.
type OrderEvent struct {
	OrderID        string      `json:"orderId"`
	InvestorID     int64       `json:"investorId"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	NewStatus      OrderStatus `json:"newStatus"`
	Order          *Order      `json:"order"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

// MinOrderQuantity is the smallest accepted order quantity.
var MinOrderQuantity = decimal.New(1, -4) // 0.0001

// CreateOrderRequest carries a submission into the engine.
type CreateOrderRequest struct {
	InvestorID     int64
	AssetID        int64
	Side           OrderSide
	Quantity       decimal.Decimal
	Price          decimal.NullDecimal
	IdempotencyKey string
}
