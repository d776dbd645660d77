// Package liveserver streams order lifecycle events to WebSocket clients.
// Each client watches exactly one investor; the hub holds one event bus
// subscription per investor with at least one client attached.
package liveserver

import (
	"context"
	"sync"

	"omc/internal/core"
)

// Client is one WebSocket connection's send side.
type Client struct {
	id         string
	investorID int64
	send       chan Message
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a client watching one investor.
func NewClient(id string, investorID int64) *Client {
	return &Client{
		id:         id,
		investorID: investorID,
		send:       make(chan Message, 256), // Buffered to prevent blocking
	}
}

// InvestorID returns the investor this client watches.
func (c *Client) InvestorID() int64 {
	return c.investorID
}

// Send sends a message to the client (non-blocking)
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		// Channel full, client is slow
		return false
	}
}

// GetSendChan returns the send channel for reading
func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

// Close closes the client
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub routes order events to the clients watching each investor. The first
// client for an investor opens a bus subscription; the last one out closes
// it again, so idle investors cost the bus nothing.
type Hub struct {
	bus core.IEventBus

	// clients and feeds are keyed by investor id.
	clients map[int64]map[*Client]bool
	feeds   map[int64]core.ISubscription

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger core.ILogger
}

// NewHub creates a hub bridging the given event bus. A nil bus is allowed
// for tests that drive deliver directly.
func NewHub(bus core.IEventBus, logger core.ILogger) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[int64]map[*Client]bool),
		feeds:      make(map[int64]core.ISubscription),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// Register attaches a client. After shutdown it closes the client instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister detaches a client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// InvestorClientCount returns how many clients watch one investor.
func (h *Hub) InvestorClientCount(investorID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[investorID])
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	set, ok := h.clients[client.investorID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[client.investorID] = set
	}
	set[client] = true

	var sub core.ISubscription
	if _, open := h.feeds[client.investorID]; !open && h.bus != nil {
		sub = h.bus.Subscribe(client.investorID)
		h.feeds[client.investorID] = sub
	}
	h.mu.Unlock()

	if sub != nil {
		go h.forward(client.investorID, sub)
	}

	if h.logger != nil {
		h.logger.Info("Client registered",
			"client_id", client.id, "investor_id", client.investorID, "total_clients", h.ClientCount())
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	var sub core.ISubscription
	removed := false
	if set, ok := h.clients[client.investorID]; ok {
		if _, in := set[client]; in {
			delete(set, client)
			removed = true
			if len(set) == 0 {
				delete(h.clients, client.investorID)
				sub = h.feeds[client.investorID]
				delete(h.feeds, client.investorID)
			}
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	client.Close()
	if sub != nil {
		sub.Close()
	}

	if h.logger != nil {
		h.logger.Info("Client unregistered",
			"client_id", client.id, "investor_id", client.investorID, "total_clients", h.ClientCount())
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.feeds {
		sub.Close()
	}
	h.feeds = make(map[int64]core.ISubscription)
	for _, set := range h.clients {
		for client := range set {
			client.Close()
		}
	}
	h.clients = make(map[int64]map[*Client]bool)
}

// forward drains one investor's bus subscription into the hub until the
// subscription closes.
func (h *Hub) forward(investorID int64, sub core.ISubscription) {
	for event := range sub.Events() {
		h.deliver(investorID, NewOrderUpdateMessage(event))
	}
}

func (h *Hub) deliver(investorID int64, msg Message) {
	h.mu.RLock()
	// Copy clients to avoid holding the lock during sends
	targets := make([]*Client, 0, len(h.clients[investorID]))
	for client := range h.clients[investorID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if client.Send(msg) {
			streamMessagesSent.Inc()
		} else {
			streamMessagesDropped.Inc()
			if h.logger != nil {
				h.logger.Warn("Client send buffer full, dropping frame",
					"client_id", client.id, "type", msg.Type)
			}
		}
	}
}
