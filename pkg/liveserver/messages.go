package liveserver

import "omc/internal/core"

// Message is one frame pushed to a connected client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	// TypeOrderUpdate carries the event emitted after an order state
	// transition commits.
	TypeOrderUpdate = "order_update"
	// TypeWelcome acknowledges the investor subscription on connect.
	TypeWelcome = "welcome"
)

// NewOrderUpdateMessage wraps a committed order event for the wire.
func NewOrderUpdateMessage(event *core.OrderEvent) Message {
	return Message{Type: TypeOrderUpdate, Data: event}
}

// NewWelcomeMessage is the first frame a client receives.
func NewWelcomeMessage(investorID int64) Message {
	return Message{Type: TypeWelcome, Data: map[string]interface{}{"investorId": investorID}}
}
